// Package model provides the foundational types shared by every sitesync
// package: syncable table names, changelog entries, wire records, sync buffer
// rows, sync state and sync logs.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import model; model imports nothing internal.
//
// Key constraints:
//   - Table names form a closed set; IntegrationOrder lists every one of them
//   - Cursors are int64 and only ever compared, never arithmetically derived
//   - Payload identity is computed over canonical JSON (see MarshalCanonical)
package model
