package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeTxID computes a deterministic transaction id using SHA256.
// Formula: SHA256(seq|kind|at|payload)
// payload is the encoded journal payload. Replaying the same history
// yields the same ids.
// Returns hex-encoded hash (64 characters).
func ComputeTxID(
	seq int64,
	kind string,
	at int64,
	payload []byte,
) string {
	data := fmt.Sprintf("%d|%s|%d|%s",
		seq,
		kind,
		at,
		payload,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
