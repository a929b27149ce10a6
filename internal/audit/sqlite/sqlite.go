package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/hostpanel/internal/audit"
)

// Table receives one row per audit record.
const Table = "devpanel_actions"

// Sink writes audit records to a SQLite database.
type Sink struct {
	db *sql.DB
}

// New creates a new SQLite audit sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// a single connection keeps :memory: databases coherent
	db.SetMaxOpenConns(1)

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + Table + `(
			ts TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
			action TEXT NOT NULL,
			status TEXT NOT NULL,
			job_id TEXT,
			project TEXT,
			context TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_` + Table + `_job ON ` + Table + `(job_id);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, r audit.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO `+Table+`(ts, action, status, job_id, project, context)
		VALUES(?, ?, ?, ?, ?, ?);`,
		r.TS.UTC(), r.Action, r.Status, nullString(r.Context["job_id"]), nullString(r.Context["project"]), r.ContextJSON())
	return err
}

// Count returns the number of rows for action/status; empty status matches all.
func (s *Sink) Count(ctx context.Context, action, status string) (int, error) {
	var n int
	q := `SELECT COUNT(*) FROM ` + Table + ` WHERE action = ?`
	args := []any{action}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, status)
	}
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&n)
	return n, err
}

func (s *Sink) Name() string { return "sqlite" }

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func nullString(v any) sql.NullString {
	s, ok := v.(string)
	if !ok || s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
