package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/rulelearn/internal/sqlpattern"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps analysis records in a SQLite database.
//
// The full record is stored as a JSON payload next to a few indexed columns.
// Date filtering happens in SQL; similarity ranking happens in Go.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at path and verifies the connection.
// Use ":memory:" for a throwaway database.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// InitSchema creates the history table if it does not exist.
func (s *SQLiteStore) InitSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS analysis_history (
			id TEXT PRIMARY KEY,
			sql_text TEXT NOT NULL,
			sql_pattern TEXT NOT NULL,
			database_type TEXT,
			created_at TEXT NOT NULL,
			payload TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_history_created_at ON analysis_history(created_at);
		CREATE INDEX IF NOT EXISTS idx_history_pattern ON analysis_history(sql_pattern);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Save inserts or replaces record, assigning an id when it has none.
func (s *SQLiteStore) Save(ctx context.Context, record *AnalysisRecord) error {
	if record == nil || strings.TrimSpace(record.SQL) == "" {
		return fmt.Errorf("%w: sql is required", ErrInvalidRecord)
	}
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	query := `
		INSERT INTO analysis_history (id, sql_text, sql_pattern, database_type, created_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sql_text = excluded.sql_text,
			sql_pattern = excluded.sql_pattern,
			database_type = excluded.database_type,
			created_at = excluded.created_at,
			payload = excluded.payload
	`

	_, err = s.db.ExecContext(ctx, query,
		record.ID,
		record.SQL,
		sqlpattern.Normalize(record.SQL),
		record.DatabaseType,
		formatTime(record.Timestamp),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// Get loads a single record by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*AnalysisRecord, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM analysis_history WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
		}
		return nil, fmt.Errorf("failed to query record: %w", err)
	}

	var rec AnalysisRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("decoding record %s: %w", id, err)
	}
	return &rec, nil
}

// GetAllHistory returns every stored record, oldest first.
func (s *SQLiteStore) GetAllHistory(ctx context.Context) ([]AnalysisRecord, error) {
	return s.query(ctx, `SELECT payload FROM analysis_history ORDER BY created_at, id`)
}

// SearchHistory returns records similar to q.SQL created at or after q.DateFrom.
func (s *SQLiteStore) SearchHistory(ctx context.Context, q SearchQuery) ([]AnalysisRecord, error) {
	var (
		records []AnalysisRecord
		err     error
	)
	if q.DateFrom.IsZero() {
		records, err = s.GetAllHistory(ctx)
	} else {
		records, err = s.query(ctx,
			`SELECT payload FROM analysis_history WHERE created_at >= ? ORDER BY created_at, id`,
			formatTime(q.DateFrom))
	}
	if err != nil {
		return nil, err
	}
	return rankRecords(records, q), nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]AnalysisRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []AnalysisRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		var rec AnalysisRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("decoding record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}

	return records, nil
}

// formatTime renders timestamps so that lexical order matches time order.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}
