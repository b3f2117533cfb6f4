package idhash

import (
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"
)

// ComputeCertificateFingerprint hashes the canonical fields of a retirement
// certificate. Formula: SHA256(id|holder|batch_id|amount|retired_at|beneficiary|reason)
// Returns base58-encoded hash.
func ComputeCertificateFingerprint(
	certificateID string,
	holder string,
	batchID string,
	amount int64,
	retiredAt int64,
	beneficiary *string,
	reason *string,
) string {
	data := fmt.Sprintf("%s|%s|%s|%d|%d|%s|%s",
		certificateID,
		holder,
		batchID,
		amount,
		retiredAt,
		deref(beneficiary),
		deref(reason),
	)

	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
