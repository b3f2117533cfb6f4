package clickhouse

import (
	"context"
	"fmt"
	"time"

	"carbon-ledger/internal/domain"
	"carbon-ledger/internal/storage"
)

// JournalSink implements storage.JournalSink by writing one flattened row
// per journal entry into ledger_events.
type JournalSink struct {
	conn *Conn
}

// NewJournalSink creates a new JournalSink.
func NewJournalSink(conn *Conn) *JournalSink {
	return &JournalSink{conn: conn}
}

// Compile-time interface check.
var _ storage.JournalSink = (*JournalSink)(nil)

// Event is the analytics row for one journal entry.
type Event struct {
	Seq          int64
	TxID         string
	Kind         domain.OpKind
	AtMs         int64
	Holder       string // acting holder
	Counterparty string // transfer recipient or retirement beneficiary
	BatchID      string
	Amount       int64  // units moved, staked, unstaked or retired
	Reward       string // decimal reward for claims and unstakes
}

// Flatten extracts the analytics columns from an entry.
func Flatten(e *domain.JournalEntry) Event {
	ev := Event{Seq: e.Seq, TxID: e.TxID, Kind: e.Kind, AtMs: e.At}
	p := e.Payload

	switch e.Kind {
	case domain.OpRegisterBatch:
		ev.Holder = p.Batch.Registrant
		ev.BatchID = p.Batch.BatchID
		ev.Amount = p.Batch.TotalSupply
	case domain.OpTransfer:
		ev.Holder = p.Transfer.From
		ev.Counterparty = p.Transfer.To
		ev.BatchID = p.Transfer.BatchID
		ev.Amount = p.Transfer.Amount
	case domain.OpStake:
		ev.Holder = p.Position.Holder
		ev.BatchID = p.Position.BatchID
		ev.Amount = p.Position.Amount
	case domain.OpClaim:
		ev.Holder = p.Claim.Holder
		ev.Reward = p.Claim.Amount.String()
	case domain.OpUnstake:
		ev.Holder = p.Unstake.Holder
		ev.BatchID = p.Unstake.BatchID
		ev.Amount = p.Unstake.Amount
		ev.Reward = p.Unstake.Reward.String()
	case domain.OpGrantBoost:
		ev.Holder = p.Boost.Holder
		ev.Reward = p.Boost.Percentage.String()
	case domain.OpRetire:
		ev.Holder = p.Certificate.Holder
		ev.BatchID = p.Certificate.BatchID
		ev.Amount = p.Certificate.Amount
		if p.Certificate.Beneficiary != nil {
			ev.Counterparty = *p.Certificate.Beneficiary
		}
	}
	return ev
}

// Publish writes one entry. Returns ErrDuplicateKey if seq was already published.
func (s *JournalSink) Publish(ctx context.Context, e *domain.JournalEntry) (err error) {
	defer func(start time.Time) { observe("sink_publish", start, err) }(time.Now())

	if e == nil || e.Validate() != nil {
		return storage.ErrInvalidInput
	}

	// ReplacingMergeTree would fold a re-publish, but the sink stays append-only.
	exists, err := s.exists(ctx, e.Seq)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	payload, err := e.EncodePayload()
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	ev := Flatten(e)

	err = s.conn.Exec(ctx, `
		INSERT INTO ledger_events (
			seq, tx_id, kind, at_ms,
			holder, counterparty, batch_id, amount, reward, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		uint64(ev.Seq), ev.TxID, string(ev.Kind), uint64(ev.AtMs),
		ev.Holder, ev.Counterparty, ev.BatchID, ev.Amount, ev.Reward, string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert ledger event: %w", err)
	}
	return nil
}

func (s *JournalSink) exists(ctx context.Context, seq int64) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `SELECT count() FROM ledger_events WHERE seq = ?`, uint64(seq)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// KindCount is the number of events of one kind.
type KindCount struct {
	Kind  domain.OpKind
	Count uint64
}

// CountByKind returns event counts per kind for events with at_ms in [start, end].
func (s *JournalSink) CountByKind(ctx context.Context, start, end int64) ([]KindCount, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT kind, count() AS n
		FROM ledger_events FINAL
		WHERE at_ms >= ? AND at_ms <= ?
		GROUP BY kind
		ORDER BY kind
	`, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query event counts: %w", err)
	}
	defer rows.Close()

	var counts []KindCount
	for rows.Next() {
		var (
			kind string
			n    uint64
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		counts = append(counts, KindCount{Kind: domain.OpKind(kind), Count: n})
	}
	return counts, rows.Err()
}

// RetiredByHolder returns units retired per holder, largest first.
func (s *JournalSink) RetiredByHolder(ctx context.Context, limit int) (map[string]int64, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.conn.Query(ctx, `
		SELECT holder, sum(amount) AS retired
		FROM ledger_events FINAL
		WHERE kind = ?
		GROUP BY holder
		ORDER BY retired DESC
		LIMIT ?
	`, string(domain.OpRetire), limit)
	if err != nil {
		return nil, fmt.Errorf("query retired by holder: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			holder  string
			retired int64
		)
		if err := rows.Scan(&holder, &retired); err != nil {
			return nil, fmt.Errorf("scan retired by holder: %w", err)
		}
		out[holder] = retired
	}
	return out, rows.Err()
}
