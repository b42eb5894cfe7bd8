// Package harness runs replay scenarios: short traces written in YAML
// together with assertions about the interval history they must produce.
//
// # Scenario Format
//
//	name: thread_lifecycle
//	description: "A thread starts, blocks on a monitor and stops"
//	layout: hotspot.cue          # optional, relative to the scenario file
//	events:
//	  - kind: jvm:thread_start
//	    ts: 100
//	    fields: { tid: 7, pid: 1, name: main }
//	  - kind: jvm:thread_stop
//	    ts: 300
//	    fields: { tid: 7, pid: 1 }
//	close_at: 500                # optional
//	assertions:
//	  - type: state_at
//	    path: ["1", "Threads", "7", "status"]
//	    at: 150
//	    expect: 5
//	  - type: interval_count
//	    path: ["1", "Threads", "7", "status"]
//	    count: 2
//
// # Assertion Types
//
//   - state_at: The value at path at time at equals expect (null = absent)
//   - interval_count: The path holds exactly count intervals
//   - no_attribute: The path was never created
//   - registry: Thread tid is registered, optionally with name and category
//   - fatal: The run aborted with runtime error code
//
// # Deterministic Testing
//
// Every run uses a pinned session id and a fresh session, and its history
// is round-tripped through an in-memory SQLite store whose fingerprint must
// match the live one. The mutation trace is compared against golden files
// in canonical JSON.
package harness
