package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/marketflow/perpcore/internal/engine"
)

// CycleRecord is one audited evaluation cycle as stored in Postgres. The
// reasons of every layer are flattened to JSON so a cycle can be replayed
// and explained after the fact.
type CycleRecord struct {
	ID            int64     `db:"id"`
	Timestamp     time.Time `db:"ts"`
	Symbol        string    `db:"symbol"`
	Regime        string    `db:"regime"`
	TrendStrength float64   `db:"trend_strength"`
	Vol           string    `db:"vol"`
	Action        string    `db:"action"`
	AllowTrend    bool      `db:"allow_trend"`
	AllowMean     bool      `db:"allow_mean"`
	AllowNewEntry bool      `db:"allow_new_entry"`
	StrictEntry   bool      `db:"strict_entry"`
	RiskScale     float64   `db:"risk_scale"`
	Side          string    `db:"side"`
	Score         float64   `db:"score"`
	PlanAction    string    `db:"plan_action"`
	PlanQuantity  float64   `db:"plan_quantity"`
	Reasons       []byte    `db:"reasons"`
	CreatedAt     time.Time `db:"created_at"`
}

// CycleRepo persists evaluation cycles for audit.
type CycleRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewCycleRepo creates a Postgres cycle repository.
func NewCycleRepo(db *sqlx.DB, timeout time.Duration) *CycleRepo {
	return &CycleRepo{db: db, timeout: timeout}
}

// Insert writes one cycle result as an audit row and returns its id.
func (r *CycleRepo) Insert(ctx context.Context, ts time.Time, res engine.Result) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	reasons := map[string][]string{
		"decision": res.Decision.Reasons,
		"signal":   res.Signal.Reasons,
		"plan":     res.Plan.Reasons,
	}
	reasonsJSON, err := json.Marshal(reasons)
	if err != nil {
		return 0, fmt.Errorf("marshal cycle reasons: %w", err)
	}

	query := `
		INSERT INTO decision_cycles
		(ts, symbol, regime, trend_strength, vol, action,
		 allow_trend, allow_mean, allow_new_entry, strict_entry, risk_scale,
		 side, score, plan_action, plan_quantity, reasons)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id`

	var id int64
	err = r.db.QueryRowxContext(ctx, query,
		ts, res.Symbol, string(res.Regime), res.TrendStrength, string(res.Vol),
		string(res.Decision.Action),
		res.Decision.AllowTrend, res.Decision.AllowMean, res.Decision.AllowNewEntry,
		res.Decision.StrictEntry, res.Decision.RiskScale,
		string(res.Signal.Side), res.Signal.Score,
		string(res.Plan.Action), res.Plan.Quantity, reasonsJSON).
		Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert decision cycle: %w", err)
	}
	return id, nil
}

// Latest returns the most recent audited cycle for a symbol, or nil when none
// exists.
func (r *CycleRepo) Latest(ctx context.Context, symbol string) (*CycleRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, ts, symbol, regime, trend_strength, vol, action,
		       allow_trend, allow_mean, allow_new_entry, strict_entry, risk_scale,
		       side, score, plan_action, plan_quantity, reasons, created_at
		FROM decision_cycles
		WHERE symbol = $1
		ORDER BY ts DESC
		LIMIT 1`

	var rec CycleRecord
	if err := r.db.GetContext(ctx, &rec, query, symbol); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("latest decision cycle: %w", err)
	}
	return &rec, nil
}

// ListRange returns the audited cycles for a symbol within [from, to],
// newest first.
func (r *CycleRepo) ListRange(ctx context.Context, symbol string, from, to time.Time) ([]CycleRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, ts, symbol, regime, trend_strength, vol, action,
		       allow_trend, allow_mean, allow_new_entry, strict_entry, risk_scale,
		       side, score, plan_action, plan_quantity, reasons, created_at
		FROM decision_cycles
		WHERE symbol = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts DESC`

	var recs []CycleRecord
	if err := r.db.SelectContext(ctx, &recs, query, symbol, from, to); err != nil {
		return nil, fmt.Errorf("list decision cycles: %w", err)
	}
	return recs, nil
}

// ActionStats returns the count of cycles per policy action for a symbol
// within [from, to].
func (r *CycleRepo) ActionStats(ctx context.Context, symbol string, from, to time.Time) (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT action, COUNT(*)
		FROM decision_cycles
		WHERE symbol = $1 AND ts >= $2 AND ts <= $3
		GROUP BY action
		ORDER BY action`

	rows, err := r.db.QueryxContext(ctx, query, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("query action stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int64)
	for rows.Next() {
		var action string
		var count int64
		if err := rows.Scan(&action, &count); err != nil {
			return nil, fmt.Errorf("scan action stats: %w", err)
		}
		stats[action] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate action stats: %w", err)
	}
	return stats, nil
}
