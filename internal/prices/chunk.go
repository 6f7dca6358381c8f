package prices

import "fmt"

// SplitBatches splits items into consecutive chunks of at most size,
// preserving input order.
func SplitBatches(items []string, size int) ([][]string, error) {
	if size <= 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}

	batches := make([][]string, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batches = append(batches, items[start:end])
	}
	return batches, nil
}
