// Package registry registers credit batches and mints their supply.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"carbon-ledger/internal/domain"
	"carbon-ledger/internal/idhash"
	"carbon-ledger/internal/ledger"
)

// Config configures a Registry.
type Config struct {
	Logger *zap.Logger
}

// Registry is the CreditBatchRegistry: the only path by which units enter the ledger.
type Registry struct {
	ledger *ledger.Ledger
	logger *zap.Logger

	mu      sync.RWMutex
	batches map[string]*domain.CreditBatch
}

// New creates a registry minting into l.
func New(l *ledger.Ledger, cfg Config) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Registry{
		ledger:  l,
		logger:  cfg.Logger,
		batches: make(map[string]*domain.CreditBatch),
	}
}

// RegisterBatch creates a batch and mints totalSupply units to registrant
// in one transaction. The batch id is derived from metadata.ExternalID.
func (r *Registry) RegisterBatch(
	ctx context.Context,
	registrant string,
	metadata domain.BatchMetadata,
	totalSupply int64,
	baseAPY decimal.Decimal,
) (string, error) {
	if totalSupply <= 0 {
		return "", domain.ErrInvalidSupply
	}
	if baseAPY.IsNegative() {
		return "", fmt.Errorf("base apy %s: %w", baseAPY, domain.ErrInvalidAmount)
	}
	if strings.TrimSpace(metadata.ExternalID) == "" {
		return "", domain.ErrInvalidMetadata
	}
	if registrant == "" {
		return "", domain.ErrInvalidHolder
	}

	batchID := idhash.ComputeBatchID(metadata.ExternalID)
	keys := []string{ledger.BatchKey(batchID), ledger.AccountKey(registrant, batchID)}

	_, err := r.ledger.Update(ctx, domain.OpRegisterBatch, keys, func(tx *ledger.Tx) error {
		if r.exists(batchID) {
			return fmt.Errorf("external id %q: %w", metadata.ExternalID, domain.ErrDuplicateBatch)
		}
		if err := tx.Mint(batchID, registrant, totalSupply); err != nil {
			return err
		}

		batch := &domain.CreditBatch{
			BatchID:     batchID,
			Registrant:  registrant,
			TotalSupply: totalSupply,
			BaseAPY:     baseAPY,
			Metadata:    metadata.Clone(),
			MintedAt:    tx.Now(),
		}
		tx.Record(domain.JournalPayload{Batch: batch.Clone()})
		tx.OnCommit(func(*domain.JournalEntry) {
			r.mu.Lock()
			r.batches[batchID] = batch
			r.mu.Unlock()
		})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("register batch: %w", err)
	}

	r.logger.Info("batch registered",
		zap.String("batch_id", batchID),
		zap.String("external_id", metadata.ExternalID),
		zap.String("registrant", registrant),
		zap.Int64("total_supply", totalSupply))
	return batchID, nil
}

func (r *Registry) exists(batchID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.batches[batchID]
	return ok
}

// GetBatch returns a batch by id. Returns domain.ErrNotFound if not registered.
func (r *Registry) GetBatch(_ context.Context, batchID string) (*domain.CreditBatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", batchID, domain.ErrNotFound)
	}
	return b.Clone(), nil
}

// ListBatches returns all batches ordered by mint time, then id.
func (r *Registry) ListBatches(_ context.Context) []*domain.CreditBatch {
	r.mu.RLock()
	result := make([]*domain.CreditBatch, 0, len(r.batches))
	for _, b := range r.batches {
		result = append(result, b.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].MintedAt != result[j].MintedAt {
			return result[i].MintedAt < result[j].MintedAt
		}
		return result[i].BatchID < result[j].BatchID
	})
	return result
}
