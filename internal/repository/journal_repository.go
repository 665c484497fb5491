package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"QuoteFlow/internal/domain/models"
	"QuoteFlow/internal/domain/repository"
)

const (
	snapshotTable = "signal_snapshots"
	decisionTable = "risk_decisions"
)

var snapshotColumns = []string{
	"ts", "symbol", "state", "trend", "twap", "slide", "norm_slide", "fill_score",
	"deviation", "volatility", "aggressive", "mean_reversion", "mid", "best_bid", "best_ask", "trades",
}

var decisionColumns = []string{
	"ts", "symbol", "proposal_id", "side", "outcome", "price", "size", "original_size", "reason", "snapshot_ts",
}

// ClickHouseJournal implements Journal for ClickHouse.
type ClickHouseJournal struct {
	db       *sql.DB
	database string
}

// NewClickHouseJournal creates the journal. Tables live in database (may be empty for the default).
func NewClickHouseJournal(db *sql.DB, database string) *ClickHouseJournal {
	return &ClickHouseJournal{db: db, database: database}
}

var _ repository.Journal = (*ClickHouseJournal)(nil)

func (j *ClickHouseJournal) table(name string) string {
	if j.database == "" {
		return name
	}
	return j.database + "." + name
}

// Schema returns the idempotent DDL for the journal tables.
func (j *ClickHouseJournal) Schema() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	ts DateTime64(3, 'UTC'),
	symbol LowCardinality(String),
	state LowCardinality(String),
	trend Float64,
	twap Float64,
	slide Float64,
	norm_slide Float64,
	fill_score Float64,
	deviation Float64,
	volatility Float64,
	aggressive UInt8,
	mean_reversion LowCardinality(String),
	mid Float64,
	best_bid Float64,
	best_ask Float64,
	trades UInt32
) ENGINE = MergeTree ORDER BY (symbol, ts) TTL toDateTime(ts) + INTERVAL 30 DAY`, j.table(snapshotTable)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	ts DateTime64(3, 'UTC'),
	symbol LowCardinality(String),
	proposal_id String,
	side LowCardinality(String),
	outcome LowCardinality(String),
	price Float64,
	size Float64,
	original_size Float64,
	reason String,
	snapshot_ts DateTime64(3, 'UTC')
) ENGINE = MergeTree ORDER BY (symbol, ts) TTL toDateTime(ts) + INTERVAL 90 DAY`, j.table(decisionTable)),
	}
}

// Init creates the tables.
func (j *ClickHouseJournal) Init(ctx context.Context) error {
	for _, stmt := range j.Schema() {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init journal schema: %w", err)
		}
	}
	return nil
}

// StoreSnapshots inserts snapshots in chunks using multi-row VALUES.
func (j *ClickHouseJournal) StoreSnapshots(ctx context.Context, symbol string, snaps []models.SignalSnapshot) error {
	rows := make([][]interface{}, 0, len(snaps))
	for _, s := range snaps {
		rows = append(rows, snapshotRow(symbol, s))
	}
	return j.insert(ctx, j.table(snapshotTable), snapshotColumns, rows)
}

// StoreDecisions inserts risk decisions in chunks using multi-row VALUES.
func (j *ClickHouseJournal) StoreDecisions(ctx context.Context, recs []repository.DecisionRecord) error {
	rows := make([][]interface{}, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, decisionRow(r))
	}
	return j.insert(ctx, j.table(decisionTable), decisionColumns, rows)
}

func (j *ClickHouseJournal) insert(ctx context.Context, table string, cols []string, rows [][]interface{}) error {
	// Chunk size tuned to 2000 rows per batch.
	const chunkSize = 2000
	for start := 0; start < len(rows); start += chunkSize {
		end := start + chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		q, args := insertQuery(table, cols, rows[start:end])
		if _, err := j.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return nil
}

// RecentDecisions returns the newest decisions first.
func (j *ClickHouseJournal) RecentDecisions(ctx context.Context, symbol string, limit int) ([]repository.DecisionRecord, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE symbol = ? ORDER BY ts DESC LIMIT ?",
		strings.Join(decisionColumns, ", "), j.table(decisionTable))
	rows, err := j.db.QueryContext(ctx, q, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []repository.DecisionRecord
	for rows.Next() {
		var (
			r          repository.DecisionRecord
			side       string
			outcome    string
			snapshotTS time.Time
		)
		p := &r.Decision.Proposal
		if err := rows.Scan(&r.At, &r.Symbol, &p.ID, &side, &outcome, &p.Price, &p.Size,
			&r.Decision.OriginalSize, &r.Decision.Reason, &snapshotTS); err != nil {
			return nil, err
		}
		// rejected invalid proposals are journaled with side "unknown"
		if side != models.Side(0).String() {
			if p.Side, err = models.ParseSide(side); err != nil {
				return nil, err
			}
		}
		r.Decision.Outcome = models.Outcome(outcome)
		p.Timestamp = r.At
		p.SourceSnapshotTimestamp = snapshotTS
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentSnapshots returns the newest snapshots first.
func (j *ClickHouseJournal) RecentSnapshots(ctx context.Context, symbol string, limit int) ([]models.SignalSnapshot, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE symbol = ? ORDER BY ts DESC LIMIT ?",
		strings.Join(snapshotColumns, ", "), j.table(snapshotTable))
	rows, err := j.db.QueryContext(ctx, q, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []models.SignalSnapshot
	for rows.Next() {
		var (
			s          models.SignalSnapshot
			sym        string
			state      string
			aggressive uint8
			mr         string
			trades     uint32
		)
		if err := rows.Scan(&s.Timestamp, &sym, &state, &s.Trend, &s.TWAP, &s.Slide, &s.NormSlide,
			&s.FillScore, &s.Deviation, &s.Volatility, &aggressive, &mr, &s.Mid, &s.BestBid, &s.BestAsk, &trades); err != nil {
			return nil, err
		}
		s.State = models.DataState(state)
		s.Aggressive = aggressive == 1
		s.MeanReversion = models.MeanReversion(mr)
		s.Trades = int(trades)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (j *ClickHouseJournal) Health(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

func (j *ClickHouseJournal) Close() error {
	return nil // Managed by pkg
}

func insertQuery(table string, cols []string, rows [][]interface{}) (string, []interface{}) {
	ph := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
	values := make([]string, len(rows))
	args := make([]interface{}, 0, len(rows)*len(cols))
	for i, r := range rows {
		values[i] = ph
		args = append(args, r...)
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", table, strings.Join(cols, ", "), strings.Join(values, ","))
	return q, args
}

func snapshotRow(symbol string, s models.SignalSnapshot) []interface{} {
	var aggressive uint8
	if s.Aggressive {
		aggressive = 1
	}
	return []interface{}{
		s.Timestamp.UTC(), symbol, string(s.State), s.Trend, s.TWAP, s.Slide, s.NormSlide, s.FillScore,
		s.Deviation, s.Volatility, aggressive, string(s.MeanReversion), s.Mid, s.BestBid, s.BestAsk, uint32(s.Trades),
	}
}

func decisionRow(r repository.DecisionRecord) []interface{} {
	p := r.Decision.Proposal
	return []interface{}{
		r.At.UTC(), r.Symbol, p.ID, p.Side.String(), string(r.Decision.Outcome), p.Price, p.Size,
		r.Decision.OriginalSize, r.Decision.Reason, p.SourceSnapshotTimestamp.UTC(),
	}
}
