package replay

import (
	"fmt"

	"carbon-ledger/internal/domain"
)

// ValidateOrdering checks that entries start at firstSeq and increase by one.
func ValidateOrdering(entries []*domain.JournalEntry, firstSeq int64) error {
	expected := firstSeq
	for _, e := range entries {
		if e.Seq != expected {
			return fmt.Errorf("%w: expected seq %d, got %d", ErrInvalidOrdering, expected, e.Seq)
		}
		expected++
	}
	return nil
}
