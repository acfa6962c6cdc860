package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

const DefaultTable = "finance_audit_events"

// PostgresSink appends events to an audit table with JSONB details.
type PostgresSink struct {
	db    *sql.DB
	table string
}

func NewPostgresSink(db *sql.DB, table string) *PostgresSink {
	if table == "" {
		table = DefaultTable
	}
	return &PostgresSink{db: db, table: table}
}

func (s *PostgresSink) Name() string { return "postgres" }

// EnsureSchema creates the audit table and its lookup index when missing.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	table := pq.QuoteIdentifier(s.table)
	index := pq.QuoteIdentifier(s.table + "_correlation_idx")
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + table + ` (
			event_id       UUID PRIMARY KEY,
			correlation_id TEXT NOT NULL,
			event_type     TEXT NOT NULL,
			severity       TEXT NOT NULL,
			user_id        TEXT,
			intent         TEXT,
			status         TEXT,
			summary        TEXT,
			details        JSONB,
			created_at     TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ` + index + ` ON ` + table + ` (correlation_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure audit schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresSink) Record(ctx context.Context, ev Event) error {
	details, err := json.Marshal(ev.Details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}

	query := `INSERT INTO ` + pq.QuoteIdentifier(s.table) + `
		(event_id, correlation_id, event_type, severity, user_id, intent, status, summary, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = s.db.ExecContext(ctx, query,
		ev.ID,
		ev.CorrelationID,
		string(ev.Type),
		string(ev.Severity),
		ev.UserID,
		ev.Intent,
		ev.Status,
		ev.Summary,
		string(details),
		ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}
