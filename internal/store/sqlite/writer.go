// Package sqlite persists closed candles and indicator snapshots. A single
// writer batches inserts into transactions so a burst of closed candles
// across symbols costs one commit, not one per row.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"trendbotv1/internal/model"
)

const (
	batchLimit   = 100
	flushEvery   = 200 * time.Millisecond
	snapshotKeep = 500
)

const schema = `
CREATE TABLE IF NOT EXISTS candles (
	symbol    TEXT    NOT NULL,
	interval  TEXT    NOT NULL,
	open_time INTEGER NOT NULL,
	open      REAL    NOT NULL,
	high      REAL    NOT NULL,
	low       REAL    NOT NULL,
	close     REAL    NOT NULL,
	volume    REAL,
	PRIMARY KEY (symbol, interval, open_time)
);

CREATE TABLE IF NOT EXISTS snapshots (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol     TEXT    NOT NULL,
	data       TEXT    NOT NULL,
	created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_snapshots_symbol ON snapshots(symbol);
`

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // e.g. "data/candles.db"
}

// Writer owns the database handle. All inserts go through one goroutine;
// the pool is capped at a single connection to match.
type Writer struct {
	db *sql.DB

	// OnCommit, when set, receives the duration of each batch commit.
	OnCommit func(time.Duration)
}

// New opens (or creates) the database, switches it to WAL mode and applies
// the schema.
func New(cfg WriterConfig) (*Writer, error) {
	dsn := cfg.DBPath + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

// DB exposes the handle for liveness pings.
func (w *Writer) DB() *sql.DB { return w.db }

// Run drains candleCh into batched transactions. A batch commits when it
// reaches batchLimit rows or when flushEvery elapses, whichever happens
// first. Returns after ctx is cancelled or the channel closes, flushing
// whatever is pending.
func (w *Writer) Run(ctx context.Context, candleCh <-chan model.Candle) {
	var pending []model.Candle
	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flush(pending)
			return

		case c, ok := <-candleCh:
			if !ok {
				w.flush(pending)
				return
			}
			pending = append(pending, c)
			if len(pending) >= batchLimit {
				w.flush(pending)
				pending = pending[:0]
			}

		case <-ticker.C:
			w.flush(pending)
			pending = pending[:0]
		}
	}
}

func (w *Writer) flush(pending []model.Candle) {
	if len(pending) == 0 {
		return
	}
	start := time.Now()
	if err := w.insertBatch(pending); err != nil {
		log.Printf("[sqlite] batch insert error: %v", err)
		return
	}
	elapsed := time.Since(start)
	log.Printf("[sqlite] committed %d candles in %v", len(pending), elapsed)
	if w.OnCommit != nil {
		w.OnCommit(elapsed)
	}
}

// insertBatch writes one transaction. INSERT OR REPLACE keeps replays
// after a reseed idempotent.
func (w *Writer) insertBatch(candles []model.Candle) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO candles
		(symbol, interval, open_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.Exec(c.Symbol, c.Interval, c.OpenTime.UnixMilli(),
			c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LastOpenTime returns the newest stored open time (epoch millis) for a
// symbol+interval, or 0 when no candles exist.
func (w *Writer) LastOpenTime(symbol, interval string) (int64, error) {
	var ts sql.NullInt64
	row := w.db.QueryRow(
		`SELECT MAX(open_time) FROM candles WHERE symbol = ? AND interval = ?`,
		symbol, interval)
	if err := row.Scan(&ts); err != nil {
		return 0, err
	}
	if !ts.Valid {
		return 0, nil
	}
	return ts.Int64, nil
}

// SaveSnapshot records an indicator snapshot for a symbol, then prunes the
// table down to the newest snapshotKeep rows. Prune failures are logged,
// not returned; losing old snapshots never blocks the pipeline.
func (w *Writer) SaveSnapshot(symbol string, snap model.IndicatorSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if _, err := w.db.Exec(
		`INSERT INTO snapshots (symbol, data) VALUES (?, ?)`,
		symbol, string(data)); err != nil {
		return fmt.Errorf("sqlite insert snapshot: %w", err)
	}

	if _, err := w.db.Exec(
		`DELETE FROM snapshots WHERE id NOT IN
			(SELECT id FROM snapshots ORDER BY id DESC LIMIT ?)`,
		snapshotKeep); err != nil {
		log.Printf("[sqlite] prune snapshots warning: %v", err)
	}
	return nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
