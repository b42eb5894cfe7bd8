package store

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vmstate/internal/value"
)

func TestMarshalPath(t *testing.T) {
	got, err := marshalPath([]string{"1", "Threads", "Monitor Name"})
	require.NoError(t, err)
	assert.Equal(t, `["1","Threads","Monitor Name"]`, got)

	empty, err := marshalPath(nil)
	require.NoError(t, err)
	assert.Equal(t, `[]`, empty)

	back, err := unmarshalPath(got)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "Threads", "Monitor Name"}, back)
}

func TestUnmarshalPathRejectsGarbage(t *testing.T) {
	_, err := unmarshalPath(`{"not":"a path"}`)
	assert.Error(t, err)
}

func TestEncodeDecodeValue(t *testing.T) {
	for _, v := range []value.Value{value.Absent{}, value.Int(-3), value.Text("C2 CompilerThread0")} {
		kind, i, s := encodeValue(v)
		got, err := decodeValue(kind, i, s)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestDecodeValueInconsistentRow(t *testing.T) {
	_, err := decodeValue("int", sql.NullInt64{}, sql.NullString{})
	assert.Error(t, err)
	_, err = decodeValue("text", sql.NullInt64{}, sql.NullString{})
	assert.Error(t, err)
	_, err = decodeValue("float", sql.NullInt64{}, sql.NullString{})
	assert.Error(t, err)
}
