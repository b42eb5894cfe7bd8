// Package gccodes decodes the integer collector codes carried by GC report
// events into a generation category and a collector name.
//
// The table is fixed at build time and never mutated, so it is shared by
// every replay session without synchronization.
package gccodes

import (
	"errors"
	"fmt"
)

// Generation categories.
const (
	NewGen = "NewGen"
	OldGen = "OldGen"
)

// ErrUnknownCode is returned by Decode for a code outside the table.
var ErrUnknownCode = errors.New("unknown gc code")

// Entry is one decoded collector.
type Entry struct {
	Code     int64
	Category string
	Name     string
}

var table = map[int64]Entry{
	0: {0, OldGen, "ParallelOld"},
	1: {1, OldGen, "SerialOld"},
	2: {2, OldGen, "PSMarkSweep"},
	3: {3, NewGen, "ParallelScavenge"},
	4: {4, NewGen, "DefNew"},
	5: {5, NewGen, "ParNew"},
	6: {6, NewGen, "G1New"},
	7: {7, OldGen, "ConcurrentMarkSweep"},
	8: {8, OldGen, "G1Old"},
}

// Decode returns the entry for code.
// An unknown code is a configuration error; callers treat it as fatal.
func Decode(code int64) (Entry, error) {
	e, ok := table[code]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %d", ErrUnknownCode, code)
	}
	return e, nil
}

// Known reports whether code is in the table.
func Known(code int64) bool {
	_, ok := table[code]
	return ok
}

// Entries returns the table ordered by code.
func Entries() []Entry {
	out := make([]Entry, 0, len(table))
	for code := int64(0); len(out) < len(table); code++ {
		if e, ok := table[code]; ok {
			out = append(out, e)
		}
	}
	return out
}
