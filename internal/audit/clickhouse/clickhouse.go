package clickhouse

import (
	"context"
	"fmt"
	"regexp"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/hostpanel/internal/audit"
)

var reTable = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Options configures the connection.
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

// Sink sends audit records to ClickHouse using the official Go client.
type Sink struct {
	conn  driver.Conn
	table string
}

func New(opts Options) (*Sink, error) {
	if opts.Table == "" {
		opts.Table = "devpanel_actions"
	}
	if !reTable.MatchString(opts.Table) {
		return nil, fmt.Errorf("invalid ClickHouse table name %q", opts.Table)
	}
	if opts.Database == "" {
		opts.Database = "default"
	}
	if opts.Username == "" {
		opts.Username = "default"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx := context.Background()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	s := &Sink{conn: conn, table: opts.Table}
	if err := s.ensureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	err := s.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.table+` (
			ts DateTime,
			action LowCardinality(String),
			status LowCardinality(String),
			job_id String,
			project String,
			context String
		) ENGINE = MergeTree()
		ORDER BY (ts, action)`)
	if err != nil {
		return fmt.Errorf("failed to create ClickHouse table: %w", err)
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, r audit.Record) error {
	query := fmt.Sprintf(`INSERT INTO %s (ts, action, status, job_id, project, context) VALUES (?, ?, ?, ?, ?, ?)`, s.table)
	jobID, _ := r.Context["job_id"].(string)
	project, _ := r.Context["project"].(string)
	if err := s.conn.Exec(ctx, query, r.TS.UTC(), r.Action, r.Status, jobID, project, r.ContextJSON()); err != nil {
		return fmt.Errorf("failed to insert audit record into ClickHouse: %w", err)
	}
	return nil
}

func (s *Sink) Name() string { return "clickhouse" }

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
