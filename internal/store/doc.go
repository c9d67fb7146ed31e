// Package store provides the site's SQLite database: domain tables plus the
// sync bookkeeping that lets the site work offline.
//
// The sync tables are:
//   - changelog: append-only record of every domain mutation, local or echo
//   - sync_cursor: pull and push positions per central site id
//   - sync_buffer: pulled records waiting for, or failing, integration
//   - sync_log: one row per sync cycle with per-phase progress
//   - kv: small settings such as the site id and sync state
//
// # Critical Patterns
//
// Changelog order
//   - cursor is an INTEGER PRIMARY KEY AUTOINCREMENT, so it never goes back
//   - a domain write and its changelog entry commit in the same transaction
//     (Store.WriteLocal, or a Tx during integration)
//
// Echo suppression
//   - entries written while integrating pulled data carry is_echo = 1
//   - the dedup window queries never return echoes, so pulled data is never
//     pushed back
//
// Deterministic results
//   - every list query has an explicit ORDER BY
//
// # Database Configuration
//
//   - WAL mode: readers do not block the writer
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
//   - a single open connection, so writers never contend inside the process
//
// Schema changes are golang-migrate migrations embedded from migrations/.
package store
