package recording

import (
	"context"
	"fmt"
	"runtime"
)

// indexChunkSize is how many messages are probed per scheduling slice.
const indexChunkSize = 256

// HashIndex maps a request-payload hash to the recorded-message indices
// carrying it, in ascending recording order. Messages without a hash
// (responses, data chunks) are not indexed.
type HashIndex struct {
	buckets map[string][]int
}

// Bucket returns the indices recorded under the hash, oldest first.
func (ix *HashIndex) Bucket(hash string) []int {
	return ix.buckets[hash]
}

// Contains reports whether any message carries the hash.
func (ix *HashIndex) Contains(hash string) bool {
	_, ok := ix.buckets[hash]
	return ok
}

// Len reports the number of distinct hashes.
func (ix *HashIndex) Len() int {
	return len(ix.buckets)
}

// BuildIndex walks the source in chunks, extracting only each message's
// top-level hash field, and yields to the scheduler between chunks so
// indexing a large recording never monopolizes it.
func BuildIndex(ctx context.Context, src Source) (*HashIndex, error) {
	ix := &HashIndex{buckets: make(map[string][]int)}
	n := src.Len()
	for start := 0; start < n; start += indexChunkSize {
		end := start + indexChunkSize
		if end > n {
			end = n
		}
		for i := start; i < end; i++ {
			h, err := src.MessageHash(i)
			if err != nil {
				return nil, fmt.Errorf("index: %w", err)
			}
			if h == "" {
				continue
			}
			ix.buckets[h] = append(ix.buckets[h], i)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		runtime.Gosched()
	}
	return ix, nil
}
