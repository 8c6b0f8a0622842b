// Package resync rebuilds cache entries from the system-of-record in
// pipelined batches. It repairs drift and warms a cold cache; it never
// creates documents and never rolls back a batch that was flushed.
package resync

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/pixperk/roomkey/pkg/cache"
	"github.com/pixperk/roomkey/pkg/config"
	"github.com/pixperk/roomkey/pkg/logging"
	"github.com/pixperk/roomkey/pkg/record"
	"github.com/pixperk/roomkey/pkg/types"
)

const (
	ModePartial = "partial"
	ModeAll     = "all"
)

type SubsetResult struct {
	Mode      string
	Requested int // length of the input as given
	Synced    int // entries written
	BatchSize int
	Batches   int // pipelines flushed
}

type AllResult struct {
	Mode      string
	Synced    int
	BatchSize int
	Batches   int
}

type Synchronizer struct {
	cache     cache.Client
	records   record.Store
	batchSize int
	logger    hclog.Logger
}

type Option func(*Synchronizer)

// batch sizes below one fall back to the default
func WithBatchSize(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithLogger(l hclog.Logger) Option {
	return func(s *Synchronizer) { s.logger = l }
}

func New(c cache.Client, records record.Store, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		cache:     c,
		records:   records,
		batchSize: config.DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNull(s.logger).Named("resync")
	return s
}

func (s *Synchronizer) BatchSize() int {
	return s.batchSize
}

// SyncSubset rewrites the cache entry of every named room that exists in the
// system-of-record. Names without a document are skipped. A repeated name is
// looked up and written once per occurrence.
//
// On error the result still reports what was flushed before the failure.
func (s *Synchronizer) SyncSubset(ctx context.Context, names []string) (SubsetResult, error) {
	res := SubsetResult{Mode: ModePartial, Requested: len(names), BatchSize: s.batchSize}
	if len(names) == 0 {
		return res, types.InvalidArgument("at least one resource name is required")
	}

	b := s.newBatch(ModePartial)
	err := func() error {
		for _, name := range names {
			if name == "" {
				continue
			}
			room, err := record.FindByName(ctx, s.records, name)
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					return err
				}
				return types.Upstream(fmt.Sprintf("look up %q", name), err)
			}
			if err := b.add(ctx, cache.SetResourceID(room.Name, room.ID)); err != nil {
				return err
			}
		}
		return b.flush(ctx)
	}()

	res.Synced, res.Batches = b.synced, b.flushes
	s.logger.Info("partial sync finished", "requested", res.Requested, "synced", res.Synced, "batches", res.Batches, "error", err)
	return res, err
}

// SyncAll rewrites the cache entry of every document in the system-of-record.
// Documents are streamed, so memory stays bounded by one batch.
func (s *Synchronizer) SyncAll(ctx context.Context) (AllResult, error) {
	res := AllResult{Mode: ModeAll, BatchSize: s.batchSize}

	b := s.newBatch(ModeAll)
	err := func() error {
		for room, err := range s.records.FindAll(ctx, types.Filter{}, types.Projection{ID: true}) {
			if err != nil {
				if ctx.Err() != nil {
					return err
				}
				return types.Upstream("scan system-of-record", err)
			}
			if err := b.add(ctx, cache.SetResourceID(room.Name, room.ID)); err != nil {
				return err
			}
		}
		return b.flush(ctx)
	}()

	res.Synced, res.Batches = b.synced, b.flushes
	s.logger.Info("full sync finished", "synced", res.Synced, "batches", res.Batches, "error", err)
	return res, err
}
