package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/roach88/sitesync/internal/engine"
	"github.com/roach88/sitesync/internal/logging"
	"github.com/roach88/sitesync/internal/model"
	"github.com/roach88/sitesync/internal/store"
	"github.com/roach88/sitesync/internal/testutil"
	"github.com/roach88/sitesync/internal/translate"
	"github.com/roach88/sitesync/internal/transport"
)

// Harness drives one scenario against a fresh site database and a fake
// central.
type Harness struct {
	store    *store.Store
	central  *testutil.FakeCentral
	sync     *engine.Synchroniser
	clock    *testutil.FakeClock
	registry *translate.Registry
}

// Run executes a scenario and returns its result.
//
// Each run gets its own database under t.TempDir and its own central, so
// scenarios never see each other's state. Errors are returned only when
// the harness itself cannot proceed; unmet expectations and failed
// assertions are reported in Result.Errors.
func Run(t testing.TB, scenario *Scenario) (*Result, error) {
	t.Helper()
	ctx := context.Background()

	h, err := newHarness(t, scenario)
	if err != nil {
		return nil, err
	}
	defer h.store.Close()

	result := NewResult()
	for _, rec := range scenario.Central {
		if err := h.enqueue(rec); err != nil {
			return nil, fmt.Errorf("seed central: %w", err)
		}
		result.addEvent(TraceEvent{Step: 0, Kind: KindEnqueue, Detail: describe(rec)})
	}

	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i+1, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	if err := h.snapshot(ctx, result); err != nil {
		return nil, err
	}

	actx := &AssertionContext{
		Ctx:     ctx,
		Store:   h.store,
		Central: h.central,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(t testing.TB, scenario *Scenario) (*Harness, error) {
	clock := testutil.NewFakeClock(testutil.Epoch)
	st, err := store.Open(filepath.Join(t.TempDir(), "site.db"), store.WithNow(clock.Now))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	fc := testutil.NewFakeCentral(t)
	client, err := newClient(fc, clock)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create client: %w", err)
	}

	registry := translate.DefaultRegistry()
	opts := []engine.Option{
		engine.WithLogger(logging.Discard()),
		engine.WithNow(clock.Now),
		engine.WithIDGenerator(testutil.NewSequentialIDs("log")),
		engine.WithRegistry(registry),
	}
	if scenario.BatchSize > 0 {
		opts = append(opts, engine.WithBatchSizes(scenario.BatchSize, scenario.BatchSize))
	}

	return &Harness{
		store:    st,
		central:  fc,
		sync:     engine.New(st, client, opts...),
		clock:    clock,
		registry: registry,
	}, nil
}

func newClient(fc *testutil.FakeCentral, clock *testutil.FakeClock) (*transport.Client, error) {
	return transport.NewClient(transport.Config{
		BaseURL:     fc.URL(),
		Credentials: transport.Credentials{Username: fc.Username, Password: fc.Password},
		Timeout:     5 * time.Second,
		Retry:       transport.NoRetry(),
		Logger:      logging.Discard(),
		Now:         clock.Now,
	})
}

func (h *Harness) execute(ctx context.Context, n int, step Step, result *Result) error {
	switch {
	case step.Sync != nil:
		h.runCycle(ctx, n, *step.Sync, result)

	case step.Local != nil:
		if err := h.writeLocal(ctx, *step.Local); err != nil {
			return err
		}
		result.addEvent(TraceEvent{Step: n, Kind: KindLocal, Detail: describe(*step.Local)})

	case step.Enqueue != nil:
		for _, rec := range step.Enqueue {
			if err := h.enqueue(rec); err != nil {
				return err
			}
			result.addEvent(TraceEvent{Step: n, Kind: KindEnqueue, Detail: describe(rec)})
		}

	case step.Fail != nil:
		h.central.FailNext(step.Fail.Op, step.Fail.Status...)
		codes := make([]string, len(step.Fail.Status))
		for i, code := range step.Fail.Status {
			codes[i] = fmt.Sprint(code)
		}
		result.addEvent(TraceEvent{
			Step:   n,
			Kind:   KindFail,
			Detail: step.Fail.Op + " " + strings.Join(codes, ","),
		})

	case step.Authorised != nil:
		h.central.SetAuthorised(*step.Authorised)
		// A site that was blocked needs a fresh central to sync again,
		// the same as an operator fixing the configuration.
		if *step.Authorised && h.sync.Blocked() != nil {
			client, err := newClient(h.central, h.clock)
			if err != nil {
				return err
			}
			h.sync.SetCentral(client)
		}
		result.addEvent(TraceEvent{Step: n, Kind: KindAuthorised, Detail: fmt.Sprint(*step.Authorised)})
	}
	return nil
}

func (h *Harness) runCycle(ctx context.Context, n int, step SyncStep, result *Result) {
	log, err := h.sync.RunCycle(ctx)
	h.clock.Advance(time.Minute)

	outcome := OutcomeOK
	if err != nil {
		outcome = string(engine.CodeOf(err))
		if outcome == "" {
			outcome = string(engine.ErrCodeInternal)
		}
	}
	result.addEvent(TraceEvent{
		Step:        n,
		Kind:        KindSync,
		Outcome:     outcome,
		Pull:        log.Pull.Done,
		Integration: log.Integration.Done,
		Push:        log.Push.Done,
	})

	want := step.Expect
	if want == "" {
		want = OutcomeOK
	}
	if outcome != want {
		msg := fmt.Sprintf("step %d: sync outcome %s, want %s", n, outcome, want)
		if err != nil {
			msg += ": " + err.Error()
		}
		result.AddError(msg)
	}
}

// writeLocal applies rec the way business logic would: the domain write
// and its changelog entry commit together.
func (h *Harness) writeLocal(ctx context.Context, rec Record) error {
	wire, err := rec.wire()
	if err != nil {
		return err
	}
	change, err := h.registry.TranslatePull(ctx, h.store, wire)
	if err != nil {
		return fmt.Errorf("local %s: %w", describe(rec), err)
	}
	_, err = h.store.WriteLocal(ctx, model.Mutation{
		Table:    change.Table,
		RecordID: change.RecordID,
		Action:   change.Action,
		StoreID:  change.StoreID,
	}, func(tx *store.Tx) error {
		return change.Apply(ctx, tx)
	})
	return err
}

func (h *Harness) enqueue(rec Record) error {
	wire, err := rec.wire()
	if err != nil {
		return err
	}
	data := ""
	if len(rec.Data) > 0 {
		data = string(wire.Data)
	}
	h.central.Enqueue(rec.Table, rec.ID, rec.Action, data)
	return nil
}

func (h *Harness) snapshot(ctx context.Context, result *Result) error {
	state, err := h.store.SyncState(ctx)
	if err != nil {
		return err
	}
	pull, err := h.store.GetCursor(ctx, h.central.SiteID, model.DirectionPull)
	if err != nil {
		return err
	}
	push, err := h.store.GetCursor(ctx, h.central.SiteID, model.DirectionPush)
	if err != nil {
		return err
	}
	buffer, err := h.store.BufferStats(ctx)
	if err != nil {
		return err
	}

	result.Final = FinalState{
		SyncState:  state,
		PullCursor: pull,
		PushCursor: push,
		Buffer:     buffer,
	}
	result.Pushed = append(result.Pushed, h.central.Pushed()...)
	return nil
}

func (rec Record) wire() (model.WireRecord, error) {
	data := json.RawMessage("null")
	if len(rec.Data) > 0 {
		raw, err := json.Marshal(rec.Data)
		if err != nil {
			return model.WireRecord{}, fmt.Errorf("encode %s: %w", describe(rec), err)
		}
		data = raw
	}
	return model.WireRecord{
		Table:    rec.Table,
		RecordID: rec.ID,
		Action:   rec.Action.OrUpsert(),
		Data:     data,
	}, nil
}

func describe(rec Record) string {
	return fmt.Sprintf("%s %s %s", rec.Table, rec.ID, rec.Action.OrUpsert())
}
