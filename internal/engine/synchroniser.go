package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/sitesync/internal/integrate"
	"github.com/roach88/sitesync/internal/model"
	"github.com/roach88/sitesync/internal/store"
	"github.com/roach88/sitesync/internal/translate"
	"github.com/roach88/sitesync/internal/transport"
)

// Central is the subset of the transport client a cycle needs.
// *transport.Client satisfies it.
type Central interface {
	Login(ctx context.Context) (transport.SiteToken, error)
	SiteInfo(ctx context.Context) (transport.SiteInfo, error)
	Initialise(ctx context.Context) (int64, error)
	Pull(ctx context.Context, cursor int64, limit int) (transport.PullBatch, error)
	Push(ctx context.Context, records []model.WireRecord) (transport.PushAck, error)
}

// Synchroniser runs sync cycles against central.
//
// Thread-safety model:
//   - RunCycle(): at most one call runs at a time; overlapping calls fail
//     with ErrCodeBusy
//   - Status(), Blocked(), SetCentral(): safe from any goroutine
type Synchroniser struct {
	store      *store.Store
	registry   *translate.Registry
	integrator *integrate.Integrator
	logger     *slog.Logger
	now        func() time.Time
	ids        IDGenerator
	clock      *Clock
	pullBatch  int
	pushBatch  int

	running atomic.Bool
	machine *machine

	mu      sync.Mutex
	central Central
	blocked *SyncError
}

// Option configures a Synchroniser.
type Option func(*Synchroniser)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Synchroniser) {
		s.logger = l
	}
}

// WithNow sets the wall clock used for sync log timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Synchroniser) {
		s.now = now
	}
}

// WithIDGenerator sets the sync log id generator. Defaults to UUIDv7.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Synchroniser) {
		s.ids = g
	}
}

// WithRegistry sets the translation registry. Defaults to
// translate.DefaultRegistry().
func WithRegistry(r *translate.Registry) Option {
	return func(s *Synchroniser) {
		s.registry = r
	}
}

// WithBatchSizes sets how many records are pulled and pushed per request.
// Non-positive values keep the default.
func WithBatchSizes(pull, push int) Option {
	return func(s *Synchroniser) {
		if pull > 0 {
			s.pullBatch = pull
		}
		if push > 0 {
			s.pushBatch = push
		}
	}
}

// New creates a Synchroniser. central may be nil until the site is
// configured; cycles fail with ErrCodeNotConfigured until SetCentral is
// called.
func New(s *store.Store, central Central, opts ...Option) *Synchroniser {
	sy := &Synchroniser{
		store:     s,
		central:   central,
		logger:    slog.Default(),
		now:       time.Now,
		ids:       UUIDv7Generator{},
		clock:     NewClock(),
		pullBatch: store.DefaultBatchSize,
		pushBatch: store.DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(sy)
	}
	if sy.registry == nil {
		sy.registry = translate.DefaultRegistry()
	}
	sy.integrator = integrate.New(s, sy.registry,
		integrate.WithLogger(sy.logger),
		integrate.WithBatchSize(sy.pullBatch))
	sy.machine = newMachine(sy.now)
	return sy
}

// SetCentral replaces the central client, typically after the settings
// changed, and clears any block left by rejected credentials.
func (s *Synchroniser) SetCentral(c Central) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.central = c
	s.blocked = nil
}

// Status returns the current phase.
func (s *Synchroniser) Status() Status {
	return s.machine.snapshot()
}

// Blocked returns the error that stops further cycles until the site is
// reconfigured, or nil.
func (s *Synchroniser) Blocked() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.central == nil {
		return errNotConfigured("central URL and credentials are not set")
	}
	if s.blocked != nil {
		return s.blocked
	}
	return nil
}

func (s *Synchroniser) currentCentral() Central {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.central
}

// RunCycle performs one pull, integrate and push cycle and returns its
// finalised sync log. On failure the log carries the error code and the
// returned error is a *SyncError.
func (s *Synchroniser) RunCycle(ctx context.Context) (model.SyncLog, error) {
	if !s.running.CompareAndSwap(false, true) {
		return model.SyncLog{}, &SyncError{Code: ErrCodeBusy, Message: "a sync cycle is already running"}
	}
	defer s.running.Store(false)

	if err := s.Blocked(); err != nil {
		return model.SyncLog{}, err
	}
	central := s.currentCentral()

	c := &cycle{
		sync:    s,
		central: central,
		number:  s.clock.Next(),
		log:     model.SyncLog{ID: s.ids.Generate(), StartedAt: s.now()},
	}
	c.logger = s.logger.With("cycle", c.number, "sync_log", c.log.ID)

	if err := s.machine.begin(c.number, c.log.ID); err != nil {
		return model.SyncLog{}, err
	}
	c.logger.Info("sync cycle started")

	err := c.run(ctx)
	if err != nil {
		return c.fail(err)
	}

	if err := s.machine.transition(PhaseIdle, ""); err != nil {
		return c.fail(err)
	}
	finished := s.now()
	c.log.FinishedAt = &finished
	if err := c.saveLog(); err != nil {
		return c.log, err
	}

	c.logger.Info("sync cycle finished",
		"pulled", c.log.Pull.Done,
		"integrated", c.log.Integration.Done,
		"pushed", c.log.Push.Done,
		"duration", finished.Sub(c.log.StartedAt))
	return c.log, nil
}

// cycle is the state of one RunCycle call.
type cycle struct {
	sync    *Synchroniser
	central Central
	number  int64
	logger  *slog.Logger
	log     model.SyncLog
	siteID  int64
}

func (c *cycle) run(ctx context.Context) error {
	s := c.sync
	if err := c.saveLog(); err != nil {
		return err
	}

	if err := c.connect(ctx); err != nil {
		return err
	}
	if err := c.pullAndIntegrate(ctx); err != nil {
		return err
	}

	if err := s.machine.transition(PhasePushing, ""); err != nil {
		return err
	}
	if err := c.push(ctx); err != nil {
		return err
	}

	state, err := s.store.AdvanceSyncState(ctx, model.StateInitialised)
	if err != nil {
		return err
	}
	c.logger.Debug("sync state", "state", state)
	return nil
}

// connect logs in, learns the site id and, until the site has completed a
// first cycle, performs the initialisation handshake.
func (c *cycle) connect(ctx context.Context) error {
	s := c.sync

	if _, err := c.central.Login(ctx); err != nil {
		return err
	}
	info, err := c.central.SiteInfo(ctx)
	if err != nil {
		return err
	}
	c.siteID = info.SiteID
	known, ok, err := s.store.SiteID(ctx)
	if err != nil {
		return err
	}
	if !ok || known != info.SiteID {
		// Records staged from another central site are fenced off.
		var discarded int
		err := s.store.InTx(ctx, func(tx *store.Tx) error {
			if err := tx.SetSiteID(ctx, info.SiteID); err != nil {
				return err
			}
			_, n, err := tx.StartPullEpoch(ctx)
			discarded = n
			return err
		})
		if err != nil {
			return err
		}
		c.logger.Info("site identified", "site_id", info.SiteID, "name", info.Name, "discarded_pending", discarded)
	}

	state, err := s.store.AdvanceSyncState(ctx, model.StateInitialising)
	if err != nil {
		return err
	}
	if state == model.StateInitialised {
		return nil
	}

	queued, err := c.central.Initialise(ctx)
	if err != nil {
		return err
	}
	// Central rebuilt this site's queue, so pulling starts over and its
	// cursors start again from the beginning.
	var discarded int
	err = s.store.InTx(ctx, func(tx *store.Tx) error {
		if err := tx.ResetCursor(ctx, c.siteID, model.DirectionPull); err != nil {
			return err
		}
		_, n, err := tx.StartPullEpoch(ctx)
		discarded = n
		return err
	})
	if err != nil {
		return err
	}
	c.log.Pull.Total = queued
	c.logger.Info("site initialised", "queue_length", queued, "discarded_pending", discarded)
	return nil
}

// pullAndIntegrate alternates between Pulling and Integrating until
// central reports no more records. The pull cursor advances only after a
// batch has been staged and integrated.
func (c *cycle) pullAndIntegrate(ctx context.Context) error {
	s := c.sync

	cursor, err := s.store.GetCursor(ctx, c.siteID, model.DirectionPull)
	if err != nil {
		return err
	}
	c.log.Pull.StartedAt = c.stamp()
	if err := c.saveLog(); err != nil {
		return err
	}

	for {
		batch, err := c.central.Pull(ctx, cursor, s.pullBatch)
		if err != nil {
			return err
		}
		if _, err := s.integrator.Stage(ctx, batch.Records); err != nil {
			return err
		}
		c.log.Pull.Done += int64(len(batch.Records))
		if len(batch.Records) > 0 {
			// Central cursors may have gaps, so this is an upper bound.
			if est := c.log.Pull.Done + batch.MaxCursor - batch.LastCursor(); est > c.log.Pull.Total {
				c.log.Pull.Total = est
			}
		}

		if err := s.machine.transition(PhaseIntegrating, ""); err != nil {
			return err
		}
		if err := c.integrate(ctx); err != nil {
			return err
		}

		if last := batch.LastCursor(); last > cursor {
			if err := s.store.SetCursor(ctx, c.siteID, model.DirectionPull, last); err != nil {
				return err
			}
			cursor = last
		}
		c.logger.Debug("pulled batch", "records", len(batch.Records), "cursor", cursor, "max_cursor", batch.MaxCursor)

		if !batch.HasMore {
			break
		}
		if err := s.machine.transition(PhasePulling, ""); err != nil {
			return err
		}
	}

	c.log.Pull.FinishedAt = c.stamp()
	return c.saveLog()
}

func (c *cycle) integrate(ctx context.Context) error {
	if c.log.Integration.StartedAt == nil {
		c.log.Integration.StartedAt = c.stamp()
	}
	base := c.log.Integration.Done
	res, err := c.sync.integrator.Integrate(ctx, func(done, total int) {
		c.log.Integration.Done = base + int64(done)
		if t := base + int64(total); t > c.log.Integration.Total {
			c.log.Integration.Total = t
		}
	})
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		c.logger.Warn("records left pending", "failed", res.Failed, "integrated", res.Integrated)
	}
	c.log.Integration.FinishedAt = c.stamp()
	return c.saveLog()
}

// push sends deduplicated local changes up to the changelog position
// captured when the phase started. Changes made while pushing wait for
// the next cycle. Changes that cannot be translated are recorded as push
// errors and retried at the start of every later push phase.
func (c *cycle) push(ctx context.Context) error {
	s := c.sync

	after, err := s.store.GetCursor(ctx, c.siteID, model.DirectionPush)
	if err != nil {
		return err
	}
	upTo, err := s.store.LatestChangelogCursor(ctx)
	if err != nil {
		return err
	}
	total, err := s.store.CountDedupWindow(ctx, after, upTo)
	if err != nil {
		return err
	}
	c.log.Push.StartedAt = c.stamp()
	c.log.Push.Total = total
	if err := c.saveLog(); err != nil {
		return err
	}

	if err := c.retryPushErrors(ctx, after); err != nil {
		return err
	}

	for after < upTo {
		entries, err := s.store.DedupChangelogWindow(ctx, after, upTo, s.pushBatch)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			break
		}

		records := make([]model.WireRecord, 0, len(entries))
		for _, e := range entries {
			rec, err := c.translatePush(ctx, e)
			if err != nil {
				return err
			}
			if rec != nil {
				records = append(records, *rec)
			}
		}
		if err := c.send(ctx, records); err != nil {
			return err
		}

		last := entries[len(entries)-1].Cursor
		if err := s.store.SetCursor(ctx, c.siteID, model.DirectionPush, last); err != nil {
			return err
		}
		after = last
		c.log.Push.Done += int64(len(entries))
		if err := c.saveLog(); err != nil {
			return err
		}
	}

	// Echo entries and superseded rows between the last pushed entry and
	// upTo need no push, so the cursor covers the whole window.
	if upTo > after {
		if err := s.store.SetCursor(ctx, c.siteID, model.DirectionPush, upTo); err != nil {
			return err
		}
	}

	c.log.Push.FinishedAt = c.stamp()
	return c.saveLog()
}

// retryPushErrors translates again the changes earlier cycles could not
// push and sends the ones that now succeed. Records changed after the push
// cursor are left to the dedup window.
func (c *cycle) retryPushErrors(ctx context.Context, after int64) error {
	s := c.sync

	failed, err := s.store.ListPushErrors(ctx, 0)
	if err != nil {
		return err
	}
	if len(failed) == 0 {
		return nil
	}

	var records []model.WireRecord
	for _, pe := range failed {
		entry, err := s.store.LatestChangelogEntry(ctx, pe.Table, pe.RecordID)
		if err != nil {
			return err
		}
		if entry.IsEcho || (entry.Cursor != pe.Cursor && entry.Cursor <= after) {
			// Superseded by central's version or by a newer local change
			// that has already been pushed.
			if err := s.store.DropPushError(ctx, pe.Table, pe.RecordID); err != nil {
				return err
			}
			continue
		}
		if entry.Cursor > after {
			continue
		}

		rec, err := c.translatePush(ctx, *entry)
		if err != nil {
			return err
		}
		if rec != nil {
			records = append(records, *rec)
		}
	}

	for len(records) > 0 {
		n := min(len(records), s.pushBatch)
		if err := c.send(ctx, records[:n]); err != nil {
			return err
		}
		c.log.Push.Total += int64(n)
		c.log.Push.Done += int64(n)
		records = records[n:]
	}
	c.logger.Debug("retried push errors", "failed", len(failed))
	return c.saveLog()
}

// translatePush returns the wire form of e, or nil when e cannot be
// translated yet. Such failures are recorded, not returned.
func (c *cycle) translatePush(ctx context.Context, e model.ChangelogEntry) (*model.WireRecord, error) {
	s := c.sync
	rec, err := s.registry.TranslatePush(ctx, s.store, e)
	if err == nil {
		return rec, nil
	}
	if !translate.IsTranslationError(err) {
		return nil, err
	}
	c.logger.Warn("local change not pushed",
		"cursor", e.Cursor, "table", e.Table, "record_id", e.RecordID, "error", err)
	if rerr := s.store.RecordPushError(ctx, e, err); rerr != nil {
		return nil, rerr
	}
	return nil, nil
}

// send pushes records and clears any push errors they resolve.
func (c *cycle) send(ctx context.Context, records []model.WireRecord) error {
	if len(records) == 0 {
		return nil
	}
	ack, err := c.central.Push(ctx, records)
	if err != nil {
		return err
	}
	cleared, err := c.sync.store.ClearPushErrors(ctx, records)
	if err != nil {
		return err
	}
	c.logger.Debug("pushed batch", "records", len(records), "integrated", ack.Integrated, "resolved_errors", cleared)
	return nil
}

// fail moves the machine to Failed and finalises the log with the error.
func (c *cycle) fail(err error) (model.SyncLog, error) {
	s := c.sync
	se := classify(s.machine.snapshot().Phase, err)

	if terr := s.machine.transition(PhaseFailed, se.Error()); terr != nil {
		c.logger.Error("cannot record failed phase", "error", terr)
	}
	if se.RequiresReconfiguration() {
		s.mu.Lock()
		s.blocked = se
		s.mu.Unlock()
	}

	finished := s.now()
	c.log.FinishedAt = &finished
	c.log.ErrorCode = string(se.Code)
	c.log.ErrorMessage = se.Error()
	if lerr := c.saveLog(); lerr != nil {
		c.logger.Error("cannot record failed cycle", "error", lerr)
	}

	c.logger.Error("sync cycle failed", "code", se.Code, "phase", se.Phase, "error", se.Err)
	return c.log, se
}

// saveLog persists the log even when the cycle's context has been
// cancelled, so an interrupted cycle is still recorded.
func (c *cycle) saveLog() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.sync.store.UpsertSyncLog(ctx, c.log); err != nil {
		return fmt.Errorf("save sync log: %w", err)
	}
	return nil
}

func (c *cycle) stamp() *time.Time {
	t := c.sync.now()
	return &t
}
