// Package engine turns a time-ordered stream of VM trace events into an
// attribute tree and an interval history.
//
// ARCHITECTURE:
//
// Single-Writer Session:
// A Session owns its tree, history and thread registry and is driven by
// one goroutine. Events are handled strictly in input order:
//  1. The wire kind is resolved to a canonical kind through the layout
//  2. The kind's recipe reads event fields and produces a Plan
//  3. The session resolves every planned path to a handle
//  4. Ordering is checked for every handle before anything is written
//  5. Mutations are written, then registry updates are applied
//
// Recipes are pure: they see the event and a read-only view of the thread
// registry and return what should change. Only the session mutates state,
// so a rejected event leaves no partial writes behind.
//
// Parallelism:
// Independent traces replay in independent sessions (NewSession or
// Session.NewInstance). Sessions share only the immutable GC code table.
//
// ERROR CLASSES:
//
//   - Ignored: unknown event kinds
//   - Skipped: stop-style events for attributes that never existed,
//     logged once per path
//   - Dropped: events with missing or ill-typed fields (RuntimeError,
//     not fatal)
//   - Fatal: a timestamp earlier than an attribute's last mutation, or an
//     unknown GC code; Replay stops
//
// ATTRIBUTE LAYOUT:
//
//	<pid>/Threads/<tid>/{name,status,Monitor Name}
//	<pid>/VMThreads/<tid>/{name,status,info}
//	<pid>/Garbage Collection/GC Threads/<tid>/{name,status,info}
//	<pid>/Garbage Collection/<gc>/<pool>
//	<pid>/Garbage Collection/Collections/{NewGen,OldGen}
//	<pid>/JIT Compilation/Compiler Threads/<tid>/{name,status}
//	<pid>/JIT Compilation/<compiler>/<thread>/{functionName,status}
//	CPUs/<cpu>/{status,info}
package engine
