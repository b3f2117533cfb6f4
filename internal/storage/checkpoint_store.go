package storage

import "context"

// VerificationCheckpoint records the last journal position that passed verification.
type VerificationCheckpoint struct {
	Seq        int64  // last verified journal seq
	TxID       string // tx id at Seq
	VerifiedAt int64  // Unix timestamp in milliseconds
	Conserved  bool   // conservation held for every batch
	Divergent  int    // number of replay divergences found
}

// CheckpointStore provides persistence for verification progress.
// This lets a restarted host verify only the journal tail.
type CheckpointStore interface {
	// GetLast returns the most recent checkpoint.
	// Returns ErrNotFound if no checkpoint has been saved yet.
	GetLast(ctx context.Context) (*VerificationCheckpoint, error)

	// Save stores a checkpoint. Returns ErrInvalidInput if Seq is lower than the last saved one.
	Save(ctx context.Context, cp *VerificationCheckpoint) error
}
