package resync

import (
	"context"
	"fmt"

	"github.com/pixperk/roomkey/pkg/cache"
	"github.com/pixperk/roomkey/pkg/metrics"
	"github.com/pixperk/roomkey/pkg/types"
)

// accumulates staged writes and flushes them as one pipeline once full
type batch struct {
	s       *Synchronizer
	mode    string
	ops     []cache.Op
	synced  int
	flushes int
}

func (s *Synchronizer) newBatch(mode string) *batch {
	return &batch{s: s, mode: mode, ops: make([]cache.Op, 0, s.batchSize)}
}

func (b *batch) add(ctx context.Context, op cache.Op) error {
	b.ops = append(b.ops, op)
	if len(b.ops) >= b.s.batchSize {
		return b.flush(ctx)
	}
	return nil
}

// sends the staged ops; a no-op when nothing is staged
func (b *batch) flush(ctx context.Context) error {
	if len(b.ops) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	results, err := b.s.cache.Pipeline(ctx, b.ops)
	if err != nil {
		return types.Upstream(fmt.Sprintf("flush batch %d", b.flushes+1), err)
	}

	b.flushes++
	written := 0
	for _, r := range results {
		if r == nil {
			written++
		}
	}
	b.synced += written
	metrics.SyncFlushTotal.WithLabelValues(b.mode).Inc()
	metrics.SyncedEntriesTotal.WithLabelValues(b.mode).Add(float64(written))

	staged := len(b.ops)
	b.ops = b.ops[:0]

	if err := cache.FirstError(results); err != nil {
		return types.Upstream(fmt.Sprintf("flush batch %d: %d of %d writes failed", b.flushes, staged-written, staged), err)
	}
	b.s.logger.Debug("batch flushed", "mode", b.mode, "size", staged)
	return nil
}
