package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintDeterministic(t *testing.T) {
	doc := map[string]any{"b": Int(2), "a": Text("x")}
	same := map[string]any{"a": Text("x"), "b": Int(2)}

	h1, err := Fingerprint(DomainHistory, doc)
	require.NoError(t, err)
	h2, err := Fingerprint(DomainHistory, same)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestFingerprintDomainSeparation(t *testing.T) {
	doc := map[string]any{"a": Int(1)}

	h1, err := Fingerprint(DomainHistory, doc)
	require.NoError(t, err)
	h2, err := Fingerprint(DomainEvent, doc)
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestFingerprintKnownValue(t *testing.T) {
	// SHA256("d" + 0x00 + "1")
	assert.Equal(t,
		hashWithDomain("d", []byte("1")),
		mustFingerprint(t, "d", Int(1)),
	)
}

func mustFingerprint(t *testing.T, domain string, doc any) string {
	t.Helper()
	h, err := Fingerprint(domain, doc)
	require.NoError(t, err)
	return h
}
