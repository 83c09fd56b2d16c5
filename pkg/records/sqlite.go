package records

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dkalashnik/openwrite/pkg/ports"
	"github.com/dkalashnik/openwrite/pkg/state"

	_ "modernc.org/sqlite"
)

// SQLiteStores keeps the records of every device in one SQLite file.
type SQLiteStores struct {
	db *sql.DB
}

// OpenSQLite opens (and creates) the database at dbPath.
func OpenSQLite(dbPath string) (*SQLiteStores, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	stores := &SQLiteStores{db: db}
	if err := stores.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return stores, nil
}

func (s *SQLiteStores) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS local_records (
  device_id TEXT NOT NULL,
  day TEXT NOT NULL,
  prompt_id TEXT NOT NULL,
  final_text TEXT NOT NULL,
  completed INTEGER NOT NULL,
  updated_at TEXT NOT NULL,
  PRIMARY KEY (device_id, day, prompt_id)
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create local_records table: %w", err)
	}
	return nil
}

func (s *SQLiteStores) ForDevice(deviceID string) (ports.RecordStore, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	return &SQLiteStore{db: s.db, device: deviceID}, nil
}

func (s *SQLiteStores) Close() error {
	return s.db.Close()
}

// SQLiteStore is the view of SQLiteStores for one device.
type SQLiteStore struct {
	db     *sql.DB
	device string
}

var _ ports.RecordStore = (*SQLiteStore)(nil)
var _ ports.RecordPruner = (*SQLiteStore)(nil)

func (s *SQLiteStore) Get(ctx context.Context, key state.RecordKey) (state.PersistedRecord, bool, error) {
	const query = `SELECT final_text, completed FROM local_records WHERE device_id = ? AND day = ? AND prompt_id = ?`
	var (
		rec       state.PersistedRecord
		completed int
	)
	err := s.db.QueryRowContext(ctx, query, s.device, key.Day, key.PromptID).Scan(&rec.FinalText, &completed)
	if err == sql.ErrNoRows {
		return state.PersistedRecord{}, false, nil
	}
	if err != nil {
		return state.PersistedRecord{}, false, fmt.Errorf("%w: query record %s: %v", ErrUnavailable, key, err)
	}
	rec.Completed = completed != 0
	return rec, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key state.RecordKey, record state.PersistedRecord) error {
	const stmt = `
INSERT INTO local_records (device_id, day, prompt_id, final_text, completed, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(device_id, day, prompt_id) DO UPDATE SET
  final_text=excluded.final_text,
  completed=excluded.completed,
  updated_at=excluded.updated_at;
`
	completed := 0
	if record.Completed {
		completed = 1
	}
	if _, err := s.db.ExecContext(ctx, stmt, s.device, key.Day, key.PromptID, record.FinalText, completed, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("%w: upsert record %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

func (s *SQLiteStore) Prune(ctx context.Context, keepDay string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM local_records WHERE device_id = ? AND day <> ?`, s.device, keepDay)
	if err != nil {
		return 0, fmt.Errorf("%w: prune records: %v", ErrUnavailable, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
