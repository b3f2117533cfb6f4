// Package retirement burns units and issues retirement certificates.
package retirement

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"carbon-ledger/internal/domain"
	"carbon-ledger/internal/idhash"
	"carbon-ledger/internal/ledger"
	"carbon-ledger/internal/observability"
)

// BatchSource resolves batches so retirement of unknown batches fails early.
type BatchSource interface {
	GetBatch(ctx context.Context, batchID string) (*domain.CreditBatch, error)
}

// Options carries the optional certificate labels.
type Options struct {
	Beneficiary *string // who the offset is claimed for
	Reason      *string // free text
}

// Config configures a Certifier.
type Config struct {
	IDs    idhash.Generator // defaults to UUIDs
	Logger *zap.Logger
}

// LeaderboardEntry ranks a holder by units retired.
type LeaderboardEntry struct {
	Rank         int
	Holder       string
	Retired      int64
	Certificates int
}

// Certifier is the RetirementCertifier. Certificates are append-only.
type Certifier struct {
	ledger  *ledger.Ledger
	batches BatchSource
	ids     idhash.Generator
	logger  *zap.Logger

	mu       sync.RWMutex
	certs    map[string]*domain.RetirementCertificate
	byHolder map[string][]string
	retired  map[string]int64 // holder -> units
}

// New creates a certifier burning through l.
func New(l *ledger.Ledger, batches BatchSource, cfg Config) *Certifier {
	if cfg.IDs == nil {
		cfg.IDs = idhash.UUIDGenerator{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Certifier{
		ledger:   l,
		batches:  batches,
		ids:      cfg.IDs,
		logger:   cfg.Logger,
		certs:    make(map[string]*domain.RetirementCertificate),
		byHolder: make(map[string][]string),
		retired:  make(map[string]int64),
	}
}

// Retire burns amount of the holder's free units and issues a certificate
// in the same transaction. Escrowed units are never retired.
func (c *Certifier) Retire(ctx context.Context, holder, batchID string, amount int64, opts Options) (string, error) {
	if amount <= 0 {
		return "", domain.ErrInvalidAmount
	}
	if holder == "" {
		return "", domain.ErrInvalidHolder
	}
	if _, err := c.batches.GetBatch(ctx, batchID); err != nil {
		return "", fmt.Errorf("retire: %w", err)
	}

	certID := c.ids.NewID()
	keys := []string{ledger.AccountKey(holder, batchID), ledger.BatchKey(batchID)}

	_, err := c.ledger.Update(ctx, domain.OpRetire, keys, func(tx *ledger.Tx) error {
		if err := tx.Burn(batchID, holder, amount); err != nil {
			return err
		}

		cert := &domain.RetirementCertificate{
			CertificateID: certID,
			Holder:        holder,
			BatchID:       batchID,
			Amount:        amount,
			RetiredAt:     tx.Now(),
			Beneficiary:   copyString(opts.Beneficiary),
			Reason:        copyString(opts.Reason),
		}
		cert.Fingerprint = idhash.ComputeCertificateFingerprint(
			cert.CertificateID,
			cert.Holder,
			cert.BatchID,
			cert.Amount,
			cert.RetiredAt,
			cert.Beneficiary,
			cert.Reason,
		)

		tx.Record(domain.JournalPayload{Certificate: cert.Clone()})
		tx.OnCommit(func(e *domain.JournalEntry) {
			cert.TxID = e.TxID
			c.mu.Lock()
			c.certs[certID] = cert
			c.byHolder[holder] = append(c.byHolder[holder], certID)
			c.retired[holder] += amount
			c.mu.Unlock()
		})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("retire %d of %s: %w", amount, batchID, err)
	}

	observability.RecordRetirement(amount)
	c.logger.Info("units retired",
		zap.String("certificate_id", certID),
		zap.String("holder", holder),
		zap.String("batch_id", batchID),
		zap.Int64("amount", amount))
	return certID, nil
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// GetCertificate returns a certificate by id. Returns domain.ErrNotFound if not issued.
func (c *Certifier) GetCertificate(_ context.Context, certID string) (*domain.RetirementCertificate, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cert, ok := c.certs[certID]
	if !ok {
		return nil, fmt.Errorf("certificate %s: %w", certID, domain.ErrNotFound)
	}
	return cert.Clone(), nil
}

// ListCertificates returns the holder's certificates ordered by retirement time, then id.
func (c *Certifier) ListCertificates(_ context.Context, holder string) []*domain.RetirementCertificate {
	c.mu.RLock()
	ids := c.byHolder[holder]
	result := make([]*domain.RetirementCertificate, 0, len(ids))
	for _, id := range ids {
		result = append(result, c.certs[id].Clone())
	}
	c.mu.RUnlock()

	sortCertificates(result)
	return result
}

// AllCertificates returns every certificate ordered by retirement time, then id.
func (c *Certifier) AllCertificates(_ context.Context) []*domain.RetirementCertificate {
	c.mu.RLock()
	result := make([]*domain.RetirementCertificate, 0, len(c.certs))
	for _, cert := range c.certs {
		result = append(result, cert.Clone())
	}
	c.mu.RUnlock()

	sortCertificates(result)
	return result
}

func sortCertificates(certs []*domain.RetirementCertificate) {
	sort.Slice(certs, func(i, j int) bool {
		if certs[i].RetiredAt != certs[j].RetiredAt {
			return certs[i].RetiredAt < certs[j].RetiredAt
		}
		return certs[i].CertificateID < certs[j].CertificateID
	})
}

// VerifyFingerprint recomputes the certificate fingerprint and compares it.
func VerifyFingerprint(cert *domain.RetirementCertificate) bool {
	return cert.Fingerprint == idhash.ComputeCertificateFingerprint(
		cert.CertificateID,
		cert.Holder,
		cert.BatchID,
		cert.Amount,
		cert.RetiredAt,
		cert.Beneficiary,
		cert.Reason,
	)
}

// TotalRetired returns the units the holder has retired across all batches.
func (c *Certifier) TotalRetired(_ context.Context, holder string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.retired[holder]
}

// Leaderboard ranks holders by retired units, ties broken by holder.
// limit <= 0 returns every holder.
func (c *Certifier) Leaderboard(_ context.Context, limit int) []LeaderboardEntry {
	c.mu.RLock()
	result := make([]LeaderboardEntry, 0, len(c.retired))
	for holder, units := range c.retired {
		result = append(result, LeaderboardEntry{
			Holder:       holder,
			Retired:      units,
			Certificates: len(c.byHolder[holder]),
		})
	}
	c.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].Retired != result[j].Retired {
			return result[i].Retired > result[j].Retired
		}
		return result[i].Holder < result[j].Holder
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	for i := range result {
		result[i].Rank = i + 1
	}
	return result
}
