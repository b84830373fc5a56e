package service

import (
	"context"
	"iter"
	"slices"

	"github.com/treeverse/vcsgate/pkg/stream"
)

const (
	// pathBatchSize bounds listings of small items (paths, tree entries, names).
	pathBatchSize = 100
)

// sendBatches sends items in batches of size, at most limit items when limit > 0.  The
// context is checked before every batch.
func sendBatches[T any](ctx context.Context, items iter.Seq[T], size, limit int, send func([]T) error) error {
	for batch := range stream.Batch(items, size, stream.WithLimit(limit)) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := send(batch); err != nil {
			return err
		}
	}
	return nil
}

// sendSlice is sendBatches over a slice.
func sendSlice[T any](ctx context.Context, items []T, size, limit int, send func([]T) error) error {
	return sendBatches(ctx, slices.Values(items), size, limit, send)
}

// sendChunks re-chunks a byte stream to blockSize and sends every block.
func sendChunks(ctx context.Context, chunks iter.Seq2[[]byte, error], blockSize int, send func([]byte) error) error {
	var err error
	for block := range stream.Rechunk(stream.UntilError(chunks, &err), blockSize) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if sendErr := send(block); sendErr != nil {
			return sendErr
		}
	}
	return err
}
