package engine

import (
	"slices"
	"sync"
	"time"
)

// Phase is the synchroniser's position within a cycle.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhasePulling     Phase = "pulling"
	PhaseIntegrating Phase = "integrating"
	PhasePushing     Phase = "pushing"
	PhaseFailed      Phase = "failed"
)

// transitions lists the phases reachable from each phase. A failed cycle
// starts the next one directly from Failed.
var transitions = map[Phase][]Phase{
	PhaseIdle:        {PhasePulling},
	PhasePulling:     {PhaseIntegrating, PhaseFailed},
	PhaseIntegrating: {PhasePulling, PhasePushing, PhaseFailed},
	PhasePushing:     {PhaseIdle, PhaseFailed},
	PhaseFailed:      {PhasePulling},
}

// CanTransition reports whether the machine may move from p to next.
func (p Phase) CanTransition(next Phase) bool {
	return slices.Contains(transitions[p], next)
}

// Active reports whether a cycle is in progress in phase p.
func (p Phase) Active() bool {
	return p == PhasePulling || p == PhaseIntegrating || p == PhasePushing
}

// Status is a snapshot of the synchroniser.
type Status struct {
	Phase  Phase     `json:"phase"`
	Reason string    `json:"reason,omitempty"` // set when Phase is Failed
	Cycle  int64     `json:"cycle"`
	Since  time.Time `json:"since"`
	LogID  string    `json:"log_id,omitempty"`
}

// machine holds the current phase. It is written by the cycle goroutine
// and read by status queries.
type machine struct {
	mu     sync.Mutex
	status Status
	now    func() time.Time
}

func newMachine(now func() time.Time) *machine {
	return &machine{
		status: Status{Phase: PhaseIdle, Since: now()},
		now:    now,
	}
}

func (m *machine) snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *machine) transition(next Phase, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.status.Phase.CanTransition(next) {
		return errInvalidTransition(m.status.Phase, next)
	}
	m.status.Phase = next
	m.status.Since = m.now()
	m.status.Reason = ""
	if next == PhaseFailed {
		m.status.Reason = reason
	}
	return nil
}

// begin moves to Pulling at the start of a cycle.
func (m *machine) begin(cycle int64, logID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.status.Phase.CanTransition(PhasePulling) {
		return errInvalidTransition(m.status.Phase, PhasePulling)
	}
	m.status = Status{Phase: PhasePulling, Cycle: cycle, Since: m.now(), LogID: logID}
	return nil
}
