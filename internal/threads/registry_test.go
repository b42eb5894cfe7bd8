package threads

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		want Category
	}{
		{"C2 CompilerThread0", Compiler},
		{"C1 CompilerThread14", Compiler},
		{"GC task thread#0 (ParallelGC)", GC},
		{"main", General},
		{"worker", General},
		{"", General},
		{"compilerthread", General},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.name))
		})
	}
}

func TestUpsertAndLookup(t *testing.T) {
	r := NewRegistry()

	_, ok := r.Lookup(10)
	assert.False(t, ok)

	r.Upsert(10, 100, "worker", General)
	e, ok := r.Lookup(10)
	require.True(t, ok)
	assert.Equal(t, Entry{TID: 10, PID: 100, Name: "worker", Category: General}, e)

	r.Upsert(10, 100, "VM Thread", VM)
	e, _ = r.Lookup(10)
	assert.Equal(t, VM, e.Category, "upsert replaces")
	assert.Equal(t, 1, r.Len())
}

func TestEntriesSorted(t *testing.T) {
	r := NewRegistry()
	r.Upsert(30, 1, "c", General)
	r.Upsert(10, 1, "a", GC)
	r.Upsert(20, 1, "b", Compiler)

	got := r.Entries()
	require.Len(t, got, 3)
	assert.Equal(t, []int64{10, 20, 30}, []int64{got[0].TID, got[1].TID, got[2].TID})
}
