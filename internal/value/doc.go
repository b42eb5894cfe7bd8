// Package value defines the state values stored in the interval history.
//
// A state value is one of three variants:
//   - Absent: no value; closes an interval without a valued successor
//   - Int: a signed 64-bit integer (status codes, busy markers)
//   - Text: a string (display names, function names, monitor names)
//
// Floats do not exist. Every numeric quantity in a trace is an integer and
// keeping floats out keeps serialization and fingerprints deterministic.
//
// The package also provides canonical JSON (RFC 8785 key ordering, NFC
// normalized strings) and a domain-separated SHA-256 fingerprint used to
// compare two replays of the same trace.
package value
