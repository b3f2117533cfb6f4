// Package boost keeps the achievement boosts granted to holders.
package boost

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"carbon-ledger/internal/domain"
	"carbon-ledger/internal/ledger"
)

// Config configures a Registry.
type Config struct {
	Logger *zap.Logger
}

// Registry is the AchievementBoostRegistry. Grants are immutable and
// non-transferable; nothing here revokes them.
type Registry struct {
	ledger *ledger.Ledger
	logger *zap.Logger

	mu     sync.RWMutex
	grants map[string]map[string]*domain.BoostGrant // holder -> boost id -> grant
}

// New creates a boost registry journaling through l.
func New(l *ledger.Ledger, cfg Config) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Registry{
		ledger: l,
		logger: cfg.Logger,
		grants: make(map[string]map[string]*domain.BoostGrant),
	}
}

// GrantBoost issues boostID to holder. Returns domain.ErrDuplicateGrant if
// the holder already has it; duplicates are never merged.
func (r *Registry) GrantBoost(ctx context.Context, holder, boostID string, percentage decimal.Decimal) error {
	if holder == "" {
		return domain.ErrInvalidHolder
	}
	if boostID == "" {
		return domain.ErrInvalidBoostID
	}
	if !percentage.IsPositive() {
		return fmt.Errorf("boost percentage %s: %w", percentage, domain.ErrInvalidAmount)
	}

	_, err := r.ledger.Update(ctx, domain.OpGrantBoost, []string{ledger.BoostKey(holder)}, func(tx *ledger.Tx) error {
		if r.has(holder, boostID) {
			return fmt.Errorf("%s/%s: %w", holder, boostID, domain.ErrDuplicateGrant)
		}

		grant := &domain.BoostGrant{
			Holder:     holder,
			BoostID:    boostID,
			Percentage: percentage,
			GrantedAt:  tx.Now(),
		}
		g := *grant
		tx.Record(domain.JournalPayload{Boost: &g})
		tx.OnCommit(func(*domain.JournalEntry) {
			r.mu.Lock()
			defer r.mu.Unlock()
			set, ok := r.grants[holder]
			if !ok {
				set = make(map[string]*domain.BoostGrant)
				r.grants[holder] = set
			}
			set[boostID] = grant
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("grant boost: %w", err)
	}

	r.logger.Debug("boost granted",
		zap.String("holder", holder),
		zap.String("boost_id", boostID),
		zap.String("percentage", percentage.String()))
	return nil
}

// GrantAchievement issues a catalog achievement at its default percentage.
// Returns domain.ErrInvalidBoostID for ids outside domain.AchievementCatalog.
func (r *Registry) GrantAchievement(ctx context.Context, holder, achievementID string) error {
	a, ok := domain.AchievementCatalog[achievementID]
	if !ok {
		return fmt.Errorf("achievement %q: %w", achievementID, domain.ErrInvalidBoostID)
	}
	return r.GrantBoost(ctx, holder, a.ID, a.Percentage)
}

func (r *Registry) has(holder, boostID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.grants[holder][boostID]
	return ok
}

// GetActiveBoosts returns the holder's grants ordered by grant time, then id.
func (r *Registry) GetActiveBoosts(_ context.Context, holder string) []*domain.BoostGrant {
	r.mu.RLock()
	result := make([]*domain.BoostGrant, 0, len(r.grants[holder]))
	for _, g := range r.grants[holder] {
		c := *g
		result = append(result, &c)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].GrantedAt != result[j].GrantedAt {
			return result[i].GrantedAt < result[j].GrantedAt
		}
		return result[i].BoostID < result[j].BoostID
	})
	return result
}

// Multiplier returns 1 + sum(percentages)/100 for the holder's current grants.
func (r *Registry) Multiplier(ctx context.Context, holder string) decimal.Decimal {
	return domain.BoostMultiplier(r.GetActiveBoosts(ctx, holder))
}

// All returns every grant ordered by holder, then boost id.
func (r *Registry) All(_ context.Context) []*domain.BoostGrant {
	r.mu.RLock()
	var result []*domain.BoostGrant
	for _, set := range r.grants {
		for _, g := range set {
			c := *g
			result = append(result, &c)
		}
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].Holder != result[j].Holder {
			return result[i].Holder < result[j].Holder
		}
		return result[i].BoostID < result[j].BoostID
	})
	return result
}
