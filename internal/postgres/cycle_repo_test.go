package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketflow/perpcore/internal/domain"
	"github.com/marketflow/perpcore/internal/engine"
	"github.com/marketflow/perpcore/internal/gates"
	"github.com/marketflow/perpcore/internal/plan"
	"github.com/marketflow/perpcore/internal/regime"
	"github.com/marketflow/perpcore/internal/signal"
)

func newMockRepo(t *testing.T) (*CycleRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewCycleRepo(sqlx.NewDb(db, "sqlmock"), time.Second), mock
}

func sampleResult() engine.Result {
	return engine.Result{
		Symbol:        "BTC-USDT-PERP",
		Regime:        regime.Trend,
		TrendStrength: 30,
		Vol:           regime.VolHigh,
		Decision: gates.Decision{
			Action:        domain.ActionOK,
			AllowTrend:    true,
			AllowNewEntry: true,
			RiskScale:     0.6,
			Reasons:       []string{"ok: regime=TREND"},
		},
		Signal: signal.Snapshot{
			Side:  domain.SideLong,
			Score: 82.5,
		},
		Plan: plan.TradePlan{
			Action:   plan.ActionOpen,
			Quantity: 50,
			Reasons:  []string{"trigger: pullback confirmed long"},
		},
	}
}

func TestCycleRepoInsert(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("INSERT INTO decision_cycles").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, err := repo.Insert(context.Background(), time.Now(), sampleResult())
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCycleRepoInsertPropagatesError(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("INSERT INTO decision_cycles").
		WillReturnError(assert.AnError)

	_, err := repo.Insert(context.Background(), time.Now(), sampleResult())
	assert.Error(t, err)
}

func cycleColumns() []string {
	return []string{
		"id", "ts", "symbol", "regime", "trend_strength", "vol", "action",
		"allow_trend", "allow_mean", "allow_new_entry", "strict_entry", "risk_scale",
		"side", "score", "plan_action", "plan_quantity", "reasons", "created_at",
	}
}

func TestCycleRepoLatest(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Now()
	rows := sqlmock.NewRows(cycleColumns()).AddRow(
		int64(7), now, "BTC-USDT-PERP", "TREND", 30.0, "HIGH", "OK",
		true, false, true, false, 0.6,
		"LONG", 82.5, "OPEN", 50.0, []byte(`{}`), now,
	)
	mock.ExpectQuery("SELECT (.+) FROM decision_cycles").
		WithArgs("BTC-USDT-PERP").
		WillReturnRows(rows)

	rec, err := repo.Latest(context.Background(), "BTC-USDT-PERP")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(7), rec.ID)
	assert.Equal(t, "TREND", rec.Regime)
	assert.Equal(t, "OPEN", rec.PlanAction)
	assert.Equal(t, 0.6, rec.RiskScale)
}

func TestCycleRepoLatestEmptyIsNil(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM decision_cycles").
		WithArgs("BTC-USDT-PERP").
		WillReturnRows(sqlmock.NewRows(cycleColumns()))

	rec, err := repo.Latest(context.Background(), "BTC-USDT-PERP")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestCycleRepoListRange(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Now()
	rows := sqlmock.NewRows(cycleColumns()).
		AddRow(int64(2), now, "BTC-USDT-PERP", "TREND", 30.0, "HIGH", "OK",
			true, false, true, false, 0.6, "LONG", 82.5, "OPEN", 50.0, []byte(`{}`), now).
		AddRow(int64(1), now.Add(-time.Hour), "BTC-USDT-PERP", "MIXED", 22.0, "NORMAL", "NO_NEW_ENTRY",
			false, true, false, false, 1.0, "NONE", 31.0, "NONE", 0.0, []byte(`{}`), now)
	mock.ExpectQuery("SELECT (.+) FROM decision_cycles").
		WillReturnRows(rows)

	recs, err := repo.ListRange(context.Background(), "BTC-USDT-PERP", now.Add(-2*time.Hour), now)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "OK", recs[0].Action)
	assert.Equal(t, "NO_NEW_ENTRY", recs[1].Action)
}

func TestCycleRepoActionStats(t *testing.T) {
	repo, mock := newMockRepo(t)

	rows := sqlmock.NewRows([]string{"action", "count"}).
		AddRow("OK", int64(12)).
		AddRow("STOP_ALL", int64(3))
	mock.ExpectQuery("SELECT action, COUNT").
		WillReturnRows(rows)

	stats, err := repo.ActionStats(context.Background(), "BTC-USDT-PERP", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(12), stats["OK"])
	assert.Equal(t, int64(3), stats["STOP_ALL"])
}
