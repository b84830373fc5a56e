package diff

// Stat counts the lines a file change adds and removes.  Binary changes count nothing.
type Stat struct {
	OldPath   string
	Path      string
	Additions int
	Deletions int
}

func Stats(diffs []FileDiff) []Stat {
	stats := make([]Stat, 0, len(diffs))
	for i := range diffs {
		fd := &diffs[i]
		st := Stat{OldPath: fd.OldPath(), Path: fd.NewPath()}
		for _, h := range fd.Hunks {
			for _, line := range h.Lines {
				switch line[0] {
				case opInsert:
					st.Additions++
				case opDelete:
					st.Deletions++
				}
			}
		}
		stats = append(stats, st)
	}
	return stats
}
