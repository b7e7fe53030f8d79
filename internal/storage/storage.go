// Package storage persists completed backtest runs: the run's own
// metadata, its daily portfolio-value samples, and its transaction log,
// using a schema-on-open, single-writer-connection style.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/backalpha/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    strategy       TEXT     NOT NULL,
    start_ts       DATETIME NOT NULL,
    end_ts         DATETIME NOT NULL,
    starting_cash  REAL     NOT NULL,
    ending_value   REAL     NOT NULL DEFAULT 0,
    realized_pnl   REAL     NOT NULL DEFAULT 0,
    unrealized_pnl REAL     NOT NULL DEFAULT 0,
    created_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS equity_samples (
    run_id INTEGER  NOT NULL REFERENCES runs(id),
    ts     DATETIME NOT NULL,
    value  REAL     NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
    run_id        INTEGER  NOT NULL REFERENCES runs(id),
    txn_id        TEXT     NOT NULL,
    asset_id      INTEGER  NOT NULL,
    order_id      TEXT     NOT NULL,
    ts            DATETIME NOT NULL,
    signed_amount REAL     NOT NULL,
    price         REAL     NOT NULL,
    commission    REAL     NOT NULL,
    side          TEXT     NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_equity_run   ON equity_samples(run_id, ts);
CREATE INDEX IF NOT EXISTS idx_txn_run      ON transactions(run_id, ts);
CREATE INDEX IF NOT EXISTS idx_txn_run_asset ON transactions(run_id, asset_id);
`

// Run is one backtest run's metadata, as stored and retrieved.
type Run struct {
	ID            int64
	Strategy      string
	Start         time.Time
	End           time.Time
	StartingCash  float64
	EndingValue   float64
	RealizedPnL   float64
	UnrealizedPnL float64
	CreatedAt     time.Time
}

// Store persists backtest runs to a SQLite database. The engine itself
// never depends on it directly; only cmd/backtest wires it in after a
// run completes.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// SQLite is single-writer, so the connection pool is capped at one.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.Open: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.Open: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun inserts run's metadata and returns its assigned ID.
func (s *Store) SaveRun(ctx context.Context, run Run) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (strategy, start_ts, end_ts, starting_cash, ending_value,
		                   realized_pnl, unrealized_pnl, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.Strategy, formatTS(run.Start), formatTS(run.End), run.StartingCash, run.EndingValue,
		run.RealizedPnL, run.UnrealizedPnL, formatTS(run.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("storage.SaveRun: insert: %w", err)
	}
	return res.LastInsertId()
}

// SaveEquityCurve bulk-inserts runID's daily portfolio-value samples in
// one transaction.
func (s *Store) SaveEquityCurve(ctx context.Context, runID int64, samples []domain.ValueSample) error {
	if len(samples) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveEquityCurve: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO equity_samples (run_id, ts, value) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("storage.SaveEquityCurve: prepare: %w", err)
	}
	defer stmt.Close()

	for _, sample := range samples {
		if _, err := stmt.ExecContext(ctx, runID, formatTS(sample.Timestamp), sample.Value); err != nil {
			return fmt.Errorf("storage.SaveEquityCurve: insert sample at %s: %w", sample.Timestamp, err)
		}
	}
	return tx.Commit()
}

// SaveTransactions bulk-inserts runID's transaction log in one
// transaction.
func (s *Store) SaveTransactions(ctx context.Context, runID int64, txns []domain.Transaction) error {
	if len(txns) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveTransactions: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transactions (run_id, txn_id, asset_id, order_id, ts, signed_amount, price, commission, side)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("storage.SaveTransactions: prepare: %w", err)
	}
	defer stmt.Close()

	for _, txn := range txns {
		if _, err := stmt.ExecContext(ctx, runID, txn.ID, int64(txn.AssetID), txn.OrderID, formatTS(txn.Timestamp),
			txn.SignedAmount, txn.Price, txn.Commission, string(txn.Side)); err != nil {
			return fmt.Errorf("storage.SaveTransactions: insert %s: %w", txn.ID, err)
		}
	}
	return tx.Commit()
}

// formatTS and parseTS round-trip a timestamp through SQLite's DATETIME
// columns as RFC3339Nano text, since SQLite has no native time type.
func formatTS(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// GetRun retrieves one run's metadata by ID.
func (s *Store) GetRun(ctx context.Context, runID int64) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, strategy, start_ts, end_ts, starting_cash, ending_value,
		       realized_pnl, unrealized_pnl, created_at
		FROM runs WHERE id = ?
	`, runID)

	var run Run
	var startStr, endStr, createdStr string
	if err := row.Scan(&run.ID, &run.Strategy, &startStr, &endStr, &run.StartingCash,
		&run.EndingValue, &run.RealizedPnL, &run.UnrealizedPnL, &createdStr); err != nil {
		return Run{}, fmt.Errorf("storage.GetRun: scan %d: %w", runID, err)
	}
	var err error
	if run.Start, err = parseTS(startStr); err != nil {
		return Run{}, fmt.Errorf("storage.GetRun: parse start_ts: %w", err)
	}
	if run.End, err = parseTS(endStr); err != nil {
		return Run{}, fmt.Errorf("storage.GetRun: parse end_ts: %w", err)
	}
	if run.CreatedAt, err = parseTS(createdStr); err != nil {
		return Run{}, fmt.Errorf("storage.GetRun: parse created_at: %w", err)
	}
	return run, nil
}

// ListRuns returns every stored run, most recent first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, strategy, start_ts, end_ts, starting_cash, ending_value,
		       realized_pnl, unrealized_pnl, created_at
		FROM runs ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("storage.ListRuns: query: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var startStr, endStr, createdStr string
		if err := rows.Scan(&run.ID, &run.Strategy, &startStr, &endStr, &run.StartingCash,
			&run.EndingValue, &run.RealizedPnL, &run.UnrealizedPnL, &createdStr); err != nil {
			return nil, fmt.Errorf("storage.ListRuns: scan row: %w", err)
		}
		if run.Start, err = parseTS(startStr); err != nil {
			return nil, fmt.Errorf("storage.ListRuns: parse start_ts: %w", err)
		}
		if run.End, err = parseTS(endStr); err != nil {
			return nil, fmt.Errorf("storage.ListRuns: parse end_ts: %w", err)
		}
		if run.CreatedAt, err = parseTS(createdStr); err != nil {
			return nil, fmt.Errorf("storage.ListRuns: parse created_at: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetEquityCurve returns runID's portfolio-value samples in timestamp
// order.
func (s *Store) GetEquityCurve(ctx context.Context, runID int64) ([]domain.ValueSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, value FROM equity_samples WHERE run_id = ? ORDER BY ts ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("storage.GetEquityCurve: query: %w", err)
	}
	defer rows.Close()

	var samples []domain.ValueSample
	for rows.Next() {
		var tsStr string
		var sample domain.ValueSample
		if err := rows.Scan(&tsStr, &sample.Value); err != nil {
			return nil, fmt.Errorf("storage.GetEquityCurve: scan row: %w", err)
		}
		if sample.Timestamp, err = parseTS(tsStr); err != nil {
			return nil, fmt.Errorf("storage.GetEquityCurve: parse ts: %w", err)
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

// GetTransactions returns runID's transaction log in timestamp order.
func (s *Store) GetTransactions(ctx context.Context, runID int64) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT txn_id, asset_id, order_id, ts, signed_amount, price, commission, side
		FROM transactions WHERE run_id = ? ORDER BY ts ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("storage.GetTransactions: query: %w", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		var txn domain.Transaction
		var assetID int64
		var side, tsStr string
		if err := rows.Scan(&txn.ID, &assetID, &txn.OrderID, &tsStr, &txn.SignedAmount,
			&txn.Price, &txn.Commission, &side); err != nil {
			return nil, fmt.Errorf("storage.GetTransactions: scan row: %w", err)
		}
		if txn.Timestamp, err = parseTS(tsStr); err != nil {
			return nil, fmt.Errorf("storage.GetTransactions: parse ts: %w", err)
		}
		txn.AssetID = domain.AssetID(assetID)
		txn.Side = domain.OrderSide(side)
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}
