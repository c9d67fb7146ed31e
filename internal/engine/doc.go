// Package engine runs sync cycles between this site and central.
//
// A Synchroniser drives one cycle at a time through the phases
//
//	Idle → Pulling ⇄ Integrating → Pushing → Idle
//
// and moves to Failed when a phase cannot complete. Pulled batches are
// staged in the sync buffer and integrated before the pull cursor moves;
// local changes are read from the changelog, deduplicated and pushed
// before the push cursor moves. Cursors therefore only advance past data
// that has been durably committed, and an interrupted cycle is simply
// repeated.
//
// Network calls are never made inside a storage transaction.
package engine
