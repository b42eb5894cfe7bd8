package value

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for fingerprints. The version suffix allows the
// serialized form to change without colliding with older fingerprints.
const (
	DomainHistory = "vmstate/history/v1"
	DomainEvent   = "vmstate/event/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint canonically marshals doc and hashes it under domain.
// Two replays of the same trace produce the same fingerprint.
func Fingerprint(domain string, doc any) (string, error) {
	data, err := MarshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return hashWithDomain(domain, data), nil
}
