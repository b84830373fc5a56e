// Package stream bounds the item count and byte size of streamed responses.
package stream

import (
	"iter"
	"os"
	"strconv"
)

const (
	DefaultBatchSize = 20
	DefaultBlockSize = 128 * 1024

	// BlockSizeEnv overrides the block size process wide.  Base prefixes are accepted
	// ("0x8000").
	BlockSizeEnv = "VCSGATE_STREAM_BLOCK_SIZE"
)

type BatchOptions struct {
	Limit int
}

type BatchOption func(*BatchOptions)

// WithLimit truncates the source to at most n items before batching.  n <= 0 means no limit.
func WithLimit(n int) BatchOption {
	return func(o *BatchOptions) {
		o.Limit = n
	}
}

// Batch groups seq into batches of size items, the last one possibly shorter.  Only one
// batch is held in memory at a time.
func Batch[T any](seq iter.Seq[T], size int, opts ...BatchOption) iter.Seq[[]T] {
	var options BatchOptions
	for _, opt := range opts {
		opt(&options)
	}
	if size <= 0 {
		size = DefaultBatchSize
	}
	return func(yield func([]T) bool) {
		batch := make([]T, 0, size)
		count := 0
		for item := range seq {
			count++
			batch = append(batch, item)
			if len(batch) == size {
				if !yield(batch) {
					return
				}
				batch = make([]T, 0, size)
			}
			// stop before pulling an item past the limit
			if options.Limit > 0 && count >= options.Limit {
				break
			}
		}
		if len(batch) > 0 {
			yield(batch)
		}
	}
}

// Rechunk re-splits chunks into blocks of exactly blockSize bytes, ignoring input
// boundaries.  The final block holds the remainder.
func Rechunk(chunks iter.Seq[[]byte], blockSize int) iter.Seq[[]byte] {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return func(yield func([]byte) bool) {
		buf := make([]byte, 0, blockSize)
		for chunk := range chunks {
			for len(chunk) > 0 {
				n := min(blockSize-len(buf), len(chunk))
				buf = append(buf, chunk[:n]...)
				chunk = chunk[n:]
				if len(buf) == blockSize {
					if !yield(buf) {
						return
					}
					buf = make([]byte, 0, blockSize)
				}
			}
		}
		if len(buf) > 0 {
			yield(buf)
		}
	}
}

// BlockSize returns the configured block size: the environment override when set and
// valid, configured otherwise, falling back to DefaultBlockSize.
func BlockSize(configured int) int {
	if s, ok := os.LookupEnv(BlockSizeEnv); ok {
		if n, err := strconv.ParseInt(s, 0, 64); err == nil && n > 0 {
			return int(n)
		}
	}
	if configured > 0 {
		return configured
	}
	return DefaultBlockSize
}

// UntilError adapts seq, stopping at the first error and storing it in *err.
func UntilError[T any](seq iter.Seq2[T, error], err *error) iter.Seq[T] {
	return func(yield func(T) bool) {
		for item, e := range seq {
			if e != nil {
				*err = e
				return
			}
			if !yield(item) {
				return
			}
		}
	}
}
