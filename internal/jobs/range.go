package jobs

import "fmt"

// IDRange is an inclusive range of record IDs.
type IDRange struct {
	From uint64
	To   uint64
}

// SplitRange splits an ID range into batches of size batchSize.
func SplitRange(from, to, batchSize uint64) ([]IDRange, error) {
	if batchSize == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("to id must be >= from id")
	}

	ranges := make([]IDRange, 0, (to-from)/batchSize+1)
	start := from
	for start <= to {
		remaining := to - start + 1
		var end uint64
		if remaining <= batchSize {
			end = to
		} else {
			end = start + batchSize - 1
		}
		ranges = append(ranges, IDRange{From: start, To: end})
		if end == to {
			break
		}
		start = end + 1
	}

	return ranges, nil
}
