package history

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vmstate/internal/attrtree"
	"github.com/roach88/vmstate/internal/value"
)

func TestMutateOpensAndClosesIntervals(t *testing.T) {
	s := New()
	h := attrtree.Handle(0)

	require.NoError(t, s.Mutate(h, 10, value.Int(5)))
	require.NoError(t, s.Mutate(h, 20, value.Absent{}))

	got := s.Intervals(h)
	require.Len(t, got, 2)
	assert.Equal(t, Interval{Handle: h, Start: 10, End: 20, Value: value.Int(5)}, got[0])
	assert.Equal(t, int64(20), got[1].Start)
	assert.True(t, got[1].IsOpen())
	assert.True(t, value.IsAbsent(got[1].Value))
}

func TestAbsentThenValue(t *testing.T) {
	s := New()
	h := attrtree.Handle(3)

	require.NoError(t, s.Mutate(h, 100, value.Absent{}))
	require.NoError(t, s.Mutate(h, 101, value.Int(1001)))

	got := s.Intervals(h)
	require.Len(t, got, 2)
	assert.Equal(t, int64(100), got[0].Start)
	assert.Equal(t, int64(101), got[0].End)
	assert.True(t, value.IsAbsent(got[0].Value))
	assert.Equal(t, value.Int(1001), got[1].Value)
	assert.Equal(t, int64(101), got[1].Start)
}

func TestSameTimestampLastWriteWins(t *testing.T) {
	s := New()
	h := attrtree.Handle(0)

	require.NoError(t, s.Mutate(h, 5, value.Int(1)))
	require.NoError(t, s.Mutate(h, 9, value.Int(2)))
	require.NoError(t, s.Mutate(h, 9, value.Text("x")))

	got := s.Intervals(h)
	require.Len(t, got, 2)
	assert.Equal(t, value.Text("x"), got[1].Value)
	assert.Equal(t, value.Text("x"), s.QueryAt(h, 9))
	assert.Equal(t, int64(3), s.Mutations())
}

func TestOrderingViolationLeavesStoreUntouched(t *testing.T) {
	s := New()
	h := attrtree.Handle(1)

	require.NoError(t, s.Mutate(h, 50, value.Int(5)))
	err := s.Mutate(h, 49, value.Int(6))

	var oe *OrderingError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, int64(50), oe.Last)
	assert.Equal(t, int64(49), oe.At)
	assert.Contains(t, err.Error(), "ordering violation")

	assert.Equal(t, value.Int(5), s.QueryAt(h, 50))
	assert.Len(t, s.Intervals(h), 1)
}

func TestOrderingIsPerHandle(t *testing.T) {
	s := New()
	require.NoError(t, s.Mutate(0, 50, value.Int(1)))
	require.NoError(t, s.Mutate(1, 10, value.Int(1)), "other handles keep their own clock")
}

func TestQueryAt(t *testing.T) {
	s := New()
	h := attrtree.Handle(2)
	require.NoError(t, s.Mutate(h, 10, value.Int(1)))
	require.NoError(t, s.Mutate(h, 20, value.Text("b")))
	require.NoError(t, s.Mutate(h, 30, value.Absent{}))

	tests := []struct {
		at   int64
		want value.Value
	}{
		{9, value.Absent{}},
		{10, value.Int(1)},
		{19, value.Int(1)},
		{20, value.Text("b")},
		{29, value.Text("b")},
		{30, value.Absent{}},
		{1 << 40, value.Absent{}},
	}
	for _, tt := range tests {
		assert.True(t, value.Equal(tt.want, s.QueryAt(h, tt.at)), "at %d", tt.at)
	}

	assert.True(t, value.IsAbsent(s.QueryAt(attrtree.Handle(99), 10)), "unknown handle")
}

func TestClose(t *testing.T) {
	s := New()
	require.NoError(t, s.Mutate(0, 10, value.Int(1)))
	require.NoError(t, s.Mutate(1, 40, value.Int(2)))

	s.Close(30)

	iv := s.Intervals(0)
	require.Len(t, iv, 1)
	assert.Equal(t, int64(30), iv[0].End)
	assert.False(t, iv[0].IsOpen())
	assert.True(t, value.IsAbsent(s.QueryAt(0, 30)))

	// A track that started after the close time ends at its own start.
	iv = s.Intervals(1)
	assert.Equal(t, int64(40), iv[0].End)

	require.ErrorIs(t, s.Mutate(0, 50, value.Int(3)), ErrClosed)
	assert.True(t, s.Closed())
}

func TestCloseRejectsNewHandles(t *testing.T) {
	s := New()
	require.NoError(t, s.Mutate(0, 10, value.Int(1)))
	s.Close(10)

	err := s.Mutate(7, 20, value.Int(5))
	require.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, []attrtree.Handle{0}, s.Handles())
	assert.Nil(t, s.Intervals(7))
	assert.Equal(t, int64(1), s.Mutations())
}

func TestSpanAndHandles(t *testing.T) {
	s := New()
	_, _, ok := s.Span()
	assert.False(t, ok)

	require.NoError(t, s.Mutate(4, 12, value.Int(1)))
	require.NoError(t, s.Mutate(1, 7, value.Int(1)))

	first, last, ok := s.Span()
	require.True(t, ok)
	assert.Equal(t, int64(7), first)
	assert.Equal(t, int64(12), last)
	assert.Equal(t, []attrtree.Handle{1, 4}, s.Handles())

	ts, ok := s.LastMutation(4)
	require.True(t, ok)
	assert.Equal(t, int64(12), ts)
}

// For random non-decreasing mutation sequences the intervals of each handle
// partition [first mutation, last mutation) and QueryAt agrees with the
// last value written at or before each instant.
func TestPartitionRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		s := New()
		h := attrtree.Handle(round)
		ts := int64(rng.Intn(10))
		type write struct {
			at int64
			v  value.Value
		}
		var writes []write

		for i := 0; i < 1+rng.Intn(40); i++ {
			ts += int64(rng.Intn(3))
			var v value.Value
			switch rng.Intn(3) {
			case 0:
				v = value.Absent{}
			case 1:
				v = value.Int(rng.Int63n(10))
			default:
				v = value.Text(string(rune('a' + rng.Intn(26))))
			}
			require.NoError(t, s.Mutate(h, ts, v))
			writes = append(writes, write{ts, v})
		}

		ivs := s.Intervals(h)
		require.NotEmpty(t, ivs)
		assert.Equal(t, writes[0].at, ivs[0].Start)
		assert.True(t, ivs[len(ivs)-1].IsOpen())
		assert.Equal(t, writes[len(writes)-1].at, ivs[len(ivs)-1].Start)
		for i := 1; i < len(ivs); i++ {
			require.Equal(t, ivs[i-1].End, ivs[i].Start, "no gap or overlap")
			require.Less(t, ivs[i-1].Start, ivs[i-1].End, "no empty interval")
		}

		for at := writes[0].at; at <= ts; at++ {
			var want value.Value = value.Absent{}
			for _, w := range writes {
				if w.at <= at {
					want = w.v
				}
			}
			require.True(t, value.Equal(want, s.QueryAt(h, at)), "round %d at %d", round, at)
		}
	}
}

func TestDocument(t *testing.T) {
	ivs := []Interval{
		{Start: 1, End: 5, Value: value.Int(3)},
		{Start: 5, End: Open, Value: value.Text("x")},
	}
	doc := Document([]string{"a", "b"}, ivs)
	data, err := value.MarshalCanonical(doc)
	require.NoError(t, err)
	assert.Equal(t, `{"intervals":[[1,5,3],[5,null,"x"]],"path":["a","b"]}`, string(data))
}
