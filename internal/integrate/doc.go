// Package integrate applies pulled records from the sync buffer to the
// local domain tables.
//
// Each buffered record is applied in its own transaction together with an
// echo changelog entry, so a record that cannot be translated or written
// leaves nothing behind and never blocks the records after it. Failed
// records stay pending with their error and attempt count recorded and
// are retried on the next pass.
package integrate
