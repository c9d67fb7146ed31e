// Package harness runs scripted sync scenarios against an in-process
// central server.
//
// A scenario seeds central's queue, makes local writes, runs sync cycles
// and injects faults, then asserts on what central received and on the
// site's final state. Every run uses a fresh database, a fake clock and
// sequential log ids, so the recorded trace is stable enough for golden
// file comparison.
//
// # Scenario Format
//
//	name: first_sync
//	description: "Pull central's units and push a local one"
//	central:
//	  - { table: unit, id: u1, data: { id: u1, name: Tablet } }
//	steps:
//	  - local: { table: unit, id: u3, data: { id: u3, name: Ampoule, isActive: true } }
//	  - fail: { op: push, status: [503] }
//	  - sync: { expect: CONNECTION_ERROR }
//	  - sync: {}
//	assertions:
//	  - type: pushed_contains
//	    table: unit
//	    id: u3
//	    expect: { name: Ampoule }
//	  - type: cursor
//	    direction: push
//	    value: 1
//
// Each step sets exactly one of sync, local, enqueue, fail or authorised.
//
// # Assertion Types
//
//   - pushed_contains: central received a record for table/id whose data
//     contains expect
//   - pushed_count: central received exactly count records
//   - call_count: central saw op exactly count times
//   - sync_state: the site's sync state equals state
//   - cursor: the pull or push cursor equals value
//   - buffer: the buffer counters named in expect match
//   - final_state: one row of table matching where has the expect columns
package harness
