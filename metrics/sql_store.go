// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Dialects supported by SQLStore. The CMS deployments this serves run
// MySQL; the platform's own services run PostgreSQL.
const (
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

// SQLStore implements Store on a relational database via database/sql
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore creates a Store backed by the given database handle.
// Dialect selects placeholder style and schema DDL.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if dialect != DialectPostgres && dialect != DialectMySQL {
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS ai_metrics (
	id CHAR(36) PRIMARY KEY,
	seq BIGSERIAL UNIQUE,
	task_type VARCHAR(50) NOT NULL,
	execution_time_ms INTEGER NOT NULL DEFAULT 0,
	tokens_used INTEGER,
	cost_usd NUMERIC(12,6),
	success BOOLEAN NOT NULL,
	error_message TEXT,
	model_used VARCHAR(50),
	created TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ai_metrics_created ON ai_metrics (created);
CREATE INDEX IF NOT EXISTS idx_ai_metrics_task_type ON ai_metrics (task_type);
`

const mysqlSchema = `
CREATE TABLE IF NOT EXISTS ai_metrics (
	id CHAR(36) PRIMARY KEY,
	seq BIGINT AUTO_INCREMENT UNIQUE,
	task_type VARCHAR(50) NOT NULL,
	execution_time_ms INT NOT NULL DEFAULT 0,
	tokens_used INT,
	cost_usd DECIMAL(12,6),
	success TINYINT(1) NOT NULL,
	error_message TEXT,
	model_used VARCHAR(50),
	created DATETIME(3) NOT NULL,
	INDEX idx_ai_metrics_created (created),
	INDEX idx_ai_metrics_task_type (task_type)
)
`

// EnsureSchema creates the ai_metrics table and indexes if absent
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	schema := postgresSchema
	if s.dialect == DialectMySQL {
		schema = mysqlSchema
	}
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return storageErr("ensure schema", err)
		}
	}
	return nil
}

// Insert appends one immutable record. The id and created timestamp are
// assigned here, never by the caller.
func (s *SQLStore) Insert(ctx context.Context, in RecordInput) (*Record, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	rec := &Record{
		ID:              uuid.NewString(),
		TaskType:        in.TaskType,
		ExecutionTimeMS: in.ExecutionTimeMS,
		TokensUsed:      in.TokensUsed,
		CostUSD:         in.CostUSD,
		Success:         in.Success,
		ErrorMessage:    in.ErrorMessage,
		ModelUsed:       in.ModelUsed,
		Created:         time.Now().UTC(),
	}

	query := s.rebind(`
		INSERT INTO ai_metrics (
			id, task_type, execution_time_ms, tokens_used, cost_usd,
			success, error_message, model_used, created
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.TaskType, rec.ExecutionTimeMS,
		nullInt(rec.TokensUsed), nullFloat(rec.CostUSD),
		rec.Success, nullStr(rec.ErrorMessage), nullStr(rec.ModelUsed),
		rec.Created,
	)
	if err != nil {
		return nil, storageErr("insert record", err)
	}

	return rec, nil
}

// FindByDateRange returns records created in [start, end], oldest first
func (s *SQLStore) FindByDateRange(ctx context.Context, start, end time.Time) ([]Record, error) {
	query := s.rebind(`
		SELECT id, task_type, execution_time_ms, tokens_used, cost_usd,
		       success, error_message, model_used, created
		FROM ai_metrics
		WHERE created >= ? AND created <= ?
		ORDER BY created ASC, seq ASC`)

	rows, err := s.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, storageErr("find by date range", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// SumCostByDateRange totals cost_usd over [start, end], null-safe
func (s *SQLStore) SumCostByDateRange(ctx context.Context, start, end time.Time) (float64, error) {
	query := s.rebind(`
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM ai_metrics
		WHERE created >= ? AND created <= ?`)

	var total float64
	if err := s.db.QueryRowContext(ctx, query, start, end).Scan(&total); err != nil {
		return 0, storageErr("sum cost by date range", err)
	}
	return total, nil
}

// RecentErrors returns the limit most recent failed records. Ordering is
// created DESC with seq DESC as the insertion-order tiebreak, so two
// failures in the same millisecond come back in a stable order.
func (s *SQLStore) RecentErrors(ctx context.Context, limit int) ([]Record, error) {
	if limit < 1 {
		return nil, ErrInvalidLimit
	}

	query := s.rebind(`
		SELECT id, task_type, execution_time_ms, tokens_used, cost_usd,
		       success, error_message, model_used, created
		FROM ai_metrics
		WHERE success = ?
		ORDER BY created DESC, seq DESC
		LIMIT ?`)

	rows, err := s.db.QueryContext(ctx, query, false, limit)
	if err != nil {
		return nil, storageErr("recent errors", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// TaskTypeSummary aggregates per task type over [start, end]
func (s *SQLStore) TaskTypeSummary(ctx context.Context, start, end time.Time) ([]TaskTypeSummary, error) {
	query := s.rebind(`
		SELECT task_type,
		       COUNT(*),
		       COALESCE(AVG(execution_time_ms), 0),
		       100.0 * SUM(CASE WHEN success THEN 1 ELSE 0 END) / COUNT(*),
		       COALESCE(SUM(cost_usd), 0),
		       COALESCE(SUM(tokens_used), 0)
		FROM ai_metrics
		WHERE created >= ? AND created <= ?
		GROUP BY task_type
		ORDER BY task_type ASC`)

	rows, err := s.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, storageErr("task type summary", err)
	}
	defer rows.Close()

	var summaries []TaskTypeSummary
	for rows.Next() {
		var ts TaskTypeSummary
		if err := rows.Scan(
			&ts.TaskType, &ts.Count, &ts.AvgTimeMS,
			&ts.SuccessRatePercent, &ts.TotalCostUSD, &ts.TotalTokens,
		); err != nil {
			return nil, storageErr("scan summary row", err)
		}
		summaries = append(summaries, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate summary rows", err)
	}

	return summaries, nil
}

// Ping checks database connectivity
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

// rebind converts ? placeholders to $n for the postgres dialect
func (s *SQLStore) rebind(query string) string {
	if s.dialect == DialectMySQL {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var rec Record
		var tokens sql.NullInt64
		var cost sql.NullFloat64
		var errMsg, model sql.NullString

		if err := rows.Scan(
			&rec.ID, &rec.TaskType, &rec.ExecutionTimeMS,
			&tokens, &cost, &rec.Success, &errMsg, &model, &rec.Created,
		); err != nil {
			return nil, storageErr("scan record", err)
		}

		if tokens.Valid {
			v := int(tokens.Int64)
			rec.TokensUsed = &v
		}
		if cost.Valid {
			v := cost.Float64
			rec.CostUSD = &v
		}
		if errMsg.Valid {
			v := errMsg.String
			rec.ErrorMessage = &v
		}
		if model.Valid {
			v := model.String
			rec.ModelUsed = &v
		}

		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate records", err)
	}
	return records, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullStr(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
