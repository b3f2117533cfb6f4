package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// OpKind identifies the operation a journal entry records.
type OpKind string

const (
	OpRegisterBatch OpKind = "REGISTER_BATCH"
	OpTransfer      OpKind = "TRANSFER"
	OpStake         OpKind = "STAKE"
	OpClaim         OpKind = "CLAIM"
	OpUnstake       OpKind = "UNSTAKE"
	OpGrantBoost    OpKind = "GRANT_BOOST"
	OpRetire        OpKind = "RETIRE"
)

// IsValid checks if the kind is a known operation.
func (k OpKind) IsValid() bool {
	switch k {
	case OpRegisterBatch, OpTransfer, OpStake, OpClaim, OpUnstake, OpGrantBoost, OpRetire:
		return true
	}
	return false
}

// String returns the string representation of OpKind.
func (k OpKind) String() string {
	return string(k)
}

// TransferRecord is the payload of a holder-to-holder transfer.
type TransferRecord struct {
	BatchID string
	From    string
	To      string
	Amount  int64
}

// ClaimRecord is the payload of a reward claim.
type ClaimRecord struct {
	PositionID string
	Holder     string
	Amount     decimal.Decimal
}

// UnstakeRecord is the payload of an unstake.
type UnstakeRecord struct {
	PositionID string
	Holder     string
	BatchID    string
	Amount     int64
	Reward     decimal.Decimal // unclaimed reward left on the position
}

// JournalPayload holds the kind-specific body of a journal entry.
// Exactly one field is set.
type JournalPayload struct {
	Batch       *CreditBatch           `json:"batch,omitempty"`
	Transfer    *TransferRecord        `json:"transfer,omitempty"`
	Position    *StakingPosition       `json:"position,omitempty"`
	Claim       *ClaimRecord           `json:"claim,omitempty"`
	Unstake     *UnstakeRecord         `json:"unstake,omitempty"`
	Boost       *BoostGrant            `json:"boost,omitempty"`
	Certificate *RetirementCertificate `json:"certificate,omitempty"`
}

// JournalEntry is one committed ledger transaction.
// Entries are append-only and ordered by Seq, which starts at 1 and has no gaps.
// Corresponds to ledger_journal table.
type JournalEntry struct {
	Seq     int64  // position in the journal
	TxID    string // content-derived transaction id
	Kind    OpKind // operation recorded
	At      int64  // Unix timestamp in milliseconds
	Payload JournalPayload
}

// Validate checks that the entry is well-formed and carries the payload its kind requires.
func (e *JournalEntry) Validate() error {
	if e.Seq <= 0 {
		return fmt.Errorf("journal entry: seq must be positive, got %d", e.Seq)
	}
	if !e.Kind.IsValid() {
		return fmt.Errorf("journal entry %d: unknown kind %q", e.Seq, e.Kind)
	}
	var ok bool
	switch e.Kind {
	case OpRegisterBatch:
		ok = e.Payload.Batch != nil
	case OpTransfer:
		ok = e.Payload.Transfer != nil
	case OpStake:
		ok = e.Payload.Position != nil
	case OpClaim:
		ok = e.Payload.Claim != nil
	case OpUnstake:
		ok = e.Payload.Unstake != nil
	case OpGrantBoost:
		ok = e.Payload.Boost != nil
	case OpRetire:
		ok = e.Payload.Certificate != nil
	}
	if !ok {
		return fmt.Errorf("journal entry %d: missing payload for %s", e.Seq, e.Kind)
	}
	return nil
}

// EncodePayload serializes the payload for storage.
func (e *JournalEntry) EncodePayload() ([]byte, error) {
	return json.Marshal(e.Payload)
}

// DecodePayload restores a payload produced by EncodePayload.
func DecodePayload(data []byte) (JournalPayload, error) {
	var p JournalPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return JournalPayload{}, fmt.Errorf("decode journal payload: %w", err)
	}
	return p, nil
}

// Clone returns a deep copy of the entry.
func (e *JournalEntry) Clone() *JournalEntry {
	c := *e
	p := e.Payload
	if p.Batch != nil {
		c.Payload.Batch = p.Batch.Clone()
	}
	if p.Transfer != nil {
		t := *p.Transfer
		c.Payload.Transfer = &t
	}
	if p.Position != nil {
		c.Payload.Position = p.Position.Clone()
	}
	if p.Claim != nil {
		cl := *p.Claim
		c.Payload.Claim = &cl
	}
	if p.Unstake != nil {
		u := *p.Unstake
		c.Payload.Unstake = &u
	}
	if p.Boost != nil {
		b := *p.Boost
		c.Payload.Boost = &b
	}
	if p.Certificate != nil {
		c.Payload.Certificate = p.Certificate.Clone()
	}
	return &c
}
