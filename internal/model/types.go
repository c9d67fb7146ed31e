package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// RowAction is the kind of change recorded against a row.
type RowAction string

const (
	ActionUpsert RowAction = "upsert"
	ActionDelete RowAction = "delete"
)

// Valid reports whether a is a known action.
func (a RowAction) Valid() bool {
	return a == ActionUpsert || a == ActionDelete
}

// OrUpsert returns a, or ActionUpsert when a is empty. Central omits the
// action for plain upserts.
func (a RowAction) OrUpsert() RowAction {
	if a == "" {
		return ActionUpsert
	}
	return a
}

// ParseRowAction validates s as a row action.
func ParseRowAction(s string) (RowAction, error) {
	a := RowAction(s).OrUpsert()
	if !a.Valid() {
		return "", fmt.Errorf("unknown row action %q", s)
	}
	return a, nil
}

// Mutation describes one change to a syncable row, as handed to the
// changelog ledger by a domain writer or by the integrator.
type Mutation struct {
	Table        Table
	RecordID     string
	Action       RowAction
	StoreID      *string
	OriginSiteID *int64

	// IsEcho marks mutations produced by integrating a pulled record.
	// Echo entries are never pushed back to central.
	IsEcho bool
}

// ChangelogEntry is one row of the append-only changelog.
//
// Cursor is assigned by storage, strictly increasing and never reused.
// For a given (Table, RecordID) only the entry with the highest cursor
// is authoritative.
type ChangelogEntry struct {
	Cursor       int64     `json:"cursor"`
	Table        Table     `json:"table_name"`
	RecordID     string    `json:"record_id"`
	Action       RowAction `json:"row_action"`
	StoreID      *string   `json:"store_id,omitempty"`
	OriginSiteID *int64    `json:"origin_site_id,omitempty"`
	IsEcho       bool      `json:"is_echo"`
}

// WireRecord is one record as exchanged with central.
//
// On pull, Cursor is the central queue cursor. On push, it carries the
// local changelog cursor the record was read from.
type WireRecord struct {
	Cursor   int64           `json:"id"`
	Table    Table           `json:"tableName"`
	RecordID string          `json:"recordId"`
	Action   RowAction       `json:"action,omitempty"`
	Data     json.RawMessage `json:"data"`
}

// SyncBufferRecord is a pulled record staged for integration.
// IntegratedAt == nil means the record is still pending.
type SyncBufferRecord struct {
	ID               string     `json:"id"`
	SiteID           int64      `json:"site_id"`
	PullEpoch        int64      `json:"pull_epoch"`
	Cursor           int64      `json:"cursor"`
	Table            Table      `json:"table_name"`
	RecordID         string     `json:"record_id"`
	Action           RowAction  `json:"row_action"`
	RawPayload       []byte     `json:"-"`
	PayloadHash      string     `json:"payload_hash"`
	ReceivedAt       time.Time  `json:"received_at"`
	IntegratedAt     *time.Time `json:"integrated_at,omitempty"`
	IntegrationError *string    `json:"integration_error,omitempty"`
	Attempts         int        `json:"attempts"`
}

// Pending reports whether the record has not yet been integrated.
func (r SyncBufferRecord) Pending() bool {
	return r.IntegratedAt == nil
}

// Wire rebuilds the wire record the buffer row was staged from.
func (r SyncBufferRecord) Wire() WireRecord {
	return WireRecord{
		Cursor:   r.Cursor,
		Table:    r.Table,
		RecordID: r.RecordID,
		Action:   r.Action,
		Data:     json.RawMessage(r.RawPayload),
	}
}

// Direction identifies a sync direction for cursor bookkeeping.
type Direction string

const (
	DirectionPull Direction = "pull"
	DirectionPush Direction = "push"
)

// SyncState is the process-wide initialisation state of the site.
// It only ever moves forward.
type SyncState string

const (
	StatePreInitialisation SyncState = "PreInitialisation"
	StateInitialising      SyncState = "Initialising"
	StateInitialised       SyncState = "Initialised"
)

func (s SyncState) rank() int {
	switch s {
	case StatePreInitialisation:
		return 0
	case StateInitialising:
		return 1
	case StateInitialised:
		return 2
	}
	return -1
}

// Valid reports whether s is a known state.
func (s SyncState) Valid() bool {
	return s.rank() >= 0
}

// Before reports whether s precedes other in the progression
// PreInitialisation → Initialising → Initialised.
func (s SyncState) Before(other SyncState) bool {
	return s.rank() < other.rank()
}

// PhaseLog records timing and progress for one phase of a cycle.
type PhaseLog struct {
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Total      int64      `json:"total"`
	Done       int64      `json:"done"`
}

// SyncLog is the observability record for one sync cycle attempt.
type SyncLog struct {
	ID           string     `json:"id"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Pull         PhaseLog   `json:"pull"`
	Integration  PhaseLog   `json:"integration"`
	Push         PhaseLog   `json:"push"`
	ErrorCode    string     `json:"error_code,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// Finished reports whether the cycle has been finalised.
func (l SyncLog) Finished() bool {
	return l.FinishedAt != nil
}

// Failed reports whether the cycle ended with an error.
func (l SyncLog) Failed() bool {
	return l.ErrorMessage != ""
}
