package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteEventStore keeps run history in a SQLite database. Writes are
// serialized to avoid SQLITE_BUSY.
type SQLiteEventStore struct {
	mu sync.Mutex
	db *sql.DB
}

// DefaultHistoryPath returns $PROVCTL_HISTORY, or history.db under ~/.provctl.
func DefaultHistoryPath() string {
	if p := os.Getenv("PROVCTL_HISTORY"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".provctl", "history.db")
	}
	return filepath.Join(home, ".provctl", "history.db")
}

// NewSQLiteEventStore opens (or creates) the database at dbPath.
func NewSQLiteEventStore(dbPath string) (*SQLiteEventStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history folder: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(5)

	s, err := NewSQLiteEventStoreFromDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteEventStoreFromDB wraps an open database and creates the schema.
func NewSQLiteEventStoreFromDB(db *sql.DB) (*SQLiteEventStore, error) {
	s := &SQLiteEventStore{db: db}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteEventStore) init() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS run_events (
		id            TEXT PRIMARY KEY,
		run_id        TEXT NOT NULL,
		sequence_num  INTEGER NOT NULL,
		event_type    TEXT NOT NULL,
		event_data    TEXT,
		created_at    TEXT NOT NULL,
		UNIQUE(run_id, sequence_num)
	);
	CREATE INDEX IF NOT EXISTS idx_run_events_run_id ON run_events(run_id);
	CREATE INDEX IF NOT EXISTS idx_run_events_created_at ON run_events(created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create run_events table: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteEventStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteEventStore) Append(ctx context.Context, runID uuid.UUID, eventType string, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(sequence_num) FROM run_events WHERE run_id = ?`, runID.String(),
	).Scan(&maxSeq); err != nil {
		return fmt.Errorf("get max sequence: %w", err)
	}
	seq := int64(1)
	if maxSeq.Valid {
		seq = maxSeq.Int64 + 1
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO run_events (id, run_id, sequence_num, event_type, event_data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), runID.String(), seq, eventType, string(raw),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteEventStore) GetEvents(ctx context.Context, runID uuid.UUID) ([]RunEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, sequence_num, event_type, event_data, created_at
		 FROM run_events WHERE run_id = ? ORDER BY sequence_num ASC`,
		runID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []RunEvent
	for rows.Next() {
		var ev RunEvent
		var idStr, runStr, dataStr, createdStr string
		if err := rows.Scan(&idStr, &runStr, &ev.SequenceNum, &ev.EventType, &dataStr, &createdStr); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.ID, _ = uuid.Parse(idStr)
		ev.RunID, _ = uuid.Parse(runStr)
		ev.EventData = json.RawMessage(dataStr)
		ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *SQLiteEventStore) GetTimeline(ctx context.Context, runID uuid.UUID) (*MaterializedRun, error) {
	events, err := s.GetEvents(ctx, runID)
	if err != nil {
		return nil, err
	}
	m := materialize(events)
	if m == nil {
		return nil, ErrNotFound
	}
	return m, nil
}

func (s *SQLiteEventStore) ListRuns(ctx context.Context, filter RunFilter) ([]MaterializedRun, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT run_id FROM run_events`)
	if err != nil {
		return nil, fmt.Errorf("query run IDs: %w", err)
	}
	var ids []uuid.UUID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan run ID: %w", err)
		}
		if id, err := uuid.Parse(idStr); err == nil {
			ids = append(ids, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []MaterializedRun
	for _, id := range ids {
		events, err := s.GetEvents(ctx, id)
		if err != nil {
			return nil, err
		}
		if m := materialize(events); m != nil && filter.matches(m) {
			results = append(results, *m)
		}
	}
	return filter.page(results), nil
}
