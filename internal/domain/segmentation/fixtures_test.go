package segmentation

func f64(v float64) *float64 { return &v }

func i64(v int64) *int64 { return &v }

// tieredRecords returns nine students: ids 1-3 struggle, 4-6 are average
// and 7-9 do well on every metric.
func tieredRecords() []StudentRecord {
	mk := func(id StudentID, lit, math, acc float64, games int, score, time float64, hints int) StudentRecord {
		return StudentRecord{
			StudentID:        id,
			LiteracyProgress: lit,
			MathProgress:     math,
			AvgAccuracy:      acc,
			GamesPlayed:      games,
			TotalScore:       score,
			AvgTimeTaken:     time,
			TotalHints:       hints,
		}
	}
	return []StudentRecord{
		mk(1, 18, 22, 31, 3, 210, 300, 15),
		mk(2, 20, 19, 29, 3, 190, 310, 16),
		mk(3, 22, 21, 30, 4, 205, 295, 14),
		mk(4, 55, 52, 61, 6, 600, 200, 8),
		mk(5, 53, 56, 59, 6, 610, 205, 7),
		mk(6, 57, 54, 60, 7, 590, 195, 8),
		mk(7, 90, 88, 91, 10, 1000, 120, 2),
		mk(8, 88, 92, 89, 10, 990, 118, 1),
		mk(9, 92, 90, 90, 11, 1010, 122, 2),
	}
}
