package flow

// Move returns a copy of ids with the element at from moved to position to,
// shifting the elements in between. Out of range positions return a plain copy.
func Move(ids []string, from, to int) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	if from < 0 || from >= len(out) || to < 0 || to >= len(out) || from == to {
		return out
	}

	item := out[from]
	if from < to {
		copy(out[from:to], out[from+1:to+1])
	} else {
		copy(out[to+1:from+1], out[to:from])
	}
	out[to] = item
	return out
}

// MoveOnto moves activeID into the position currently held by overID.
// It reports false when either id is missing.
func MoveOnto(ids []string, activeID, overID string) ([]string, bool) {
	from, to := -1, -1
	for i, id := range ids {
		if id == activeID {
			from = i
		}
		if id == overID {
			to = i
		}
	}
	if from < 0 || to < 0 {
		return nil, false
	}
	return Move(ids, from, to), true
}

// Reindex maps every id to its 1-based position.
func Reindex(ids []string) map[string]int {
	idx := make(map[string]int, len(ids))
	for i, id := range ids {
		idx[id] = i + 1
	}
	return idx
}
