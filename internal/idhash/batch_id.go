package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ComputeBatchID computes a deterministic batch_id using SHA256.
// Formula: SHA256("batch"|normalized_external_id)
// The external id is trimmed and upper-cased so that registry serials that
// differ only in case or surrounding space map to the same batch.
// Returns hex-encoded hash (64 characters).
func ComputeBatchID(externalID string) string {
	data := fmt.Sprintf("%s|%s",
		"batch",
		strings.ToUpper(strings.TrimSpace(externalID)),
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
