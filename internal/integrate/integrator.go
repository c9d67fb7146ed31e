package integrate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/sitesync/internal/model"
	"github.com/roach88/sitesync/internal/store"
	"github.com/roach88/sitesync/internal/translate"
)

// Result counts the outcome of one integration pass.
type Result struct {
	Attempted  int
	Integrated int
	Failed     int
	Superseded int
}

// Progress is called after each record with the number processed so far
// and the number pending when the pass started.
type Progress func(done, total int)

// Integrator stages pulled records and integrates pending ones.
type Integrator struct {
	store     *store.Store
	registry  *translate.Registry
	logger    *slog.Logger
	batchSize int
}

// Option configures an Integrator.
type Option func(*Integrator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(i *Integrator) {
		i.logger = l
	}
}

// WithBatchSize sets how many pending rows are read per page.
func WithBatchSize(n int) Option {
	return func(i *Integrator) {
		if n > 0 {
			i.batchSize = n
		}
	}
}

// New returns an Integrator writing to s through registry.
func New(s *store.Store, registry *translate.Registry, opts ...Option) *Integrator {
	i := &Integrator{
		store:     s,
		registry:  registry,
		logger:    slog.Default(),
		batchSize: store.DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Stage persists a pulled batch as pending buffer rows. Records already
// staged from the same central cursor are skipped.
func (i *Integrator) Stage(ctx context.Context, records []model.WireRecord) (int, error) {
	n, err := i.store.StageRecords(ctx, records)
	if err != nil {
		return n, fmt.Errorf("stage %d records: %w", len(records), err)
	}
	return n, nil
}

// Integrate makes one pass over the pending buffer in integration order.
//
// Per-record failures are recorded on the buffer row and counted in the
// result. The returned error is reserved for failures that prevent the
// pass itself from continuing, such as the buffer becoming unreadable.
func (i *Integrator) Integrate(ctx context.Context, progress Progress) (Result, error) {
	var res Result

	stats, err := i.store.BufferStats(ctx)
	if err != nil {
		return res, fmt.Errorf("integrate: %w", err)
	}
	total := int(stats.Pending)

	pos := store.PendingPosition{Rank: -1}
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		page, err := i.store.PendingBufferAfter(ctx, pos, i.batchSize)
		if err != nil {
			return res, fmt.Errorf("integrate: %w", err)
		}
		if len(page) == 0 {
			break
		}

		for _, rec := range page {
			pos = store.PositionOf(rec)
			res.Attempted++
			superseded, err := i.integrateOne(ctx, rec)
			if err != nil {
				res.Failed++
				i.logger.Warn("record not integrated",
					"cursor", rec.Cursor,
					"table", rec.Table,
					"record_id", rec.RecordID,
					"attempt", rec.Attempts+1,
					"error", err)
				if merr := i.store.MarkIntegrationError(ctx, rec.ID, err); merr != nil {
					return res, fmt.Errorf("integrate: record integration error for cursor %d: %w", rec.Cursor, merr)
				}
			} else {
				res.Integrated++
				res.Superseded += superseded
			}

			if progress != nil {
				progress(res.Attempted, total)
			}
		}
	}

	i.logger.Debug("integration pass complete",
		"attempted", res.Attempted,
		"integrated", res.Integrated,
		"failed", res.Failed,
		"superseded", res.Superseded)
	return res, nil
}

// integrateOne applies rec in a single transaction: the domain write, its
// echo changelog entry and the buffer bookkeeping commit or roll back
// together.
func (i *Integrator) integrateOne(ctx context.Context, rec model.SyncBufferRecord) (int, error) {
	var superseded int
	err := i.store.InTx(ctx, func(tx *store.Tx) error {
		change, err := i.registry.TranslatePull(ctx, tx, rec.Wire())
		if err != nil {
			return err
		}
		if err := change.Apply(ctx, tx); err != nil {
			return err
		}
		// Central does not report which site a record originated from.
		if _, err := tx.AppendChangelog(ctx, change.EchoMutation(nil)); err != nil {
			return err
		}
		if err := tx.MarkIntegrated(ctx, rec.ID); err != nil {
			return err
		}
		superseded, err = tx.SupersedePending(ctx, rec.Table, rec.RecordID, rec.Cursor)
		return err
	})
	return superseded, err
}
