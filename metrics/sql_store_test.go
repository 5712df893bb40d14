// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockedStore(t *testing.T, dialect string) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLStore(db, dialect)
	if err != nil {
		t.Fatalf("NewSQLStore() error: %v", err)
	}
	return store, mock
}

func TestNewSQLStoreUnknownDialect(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := NewSQLStore(db, "oracle"); err == nil {
		t.Error("expected error for unsupported dialect")
	}
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{dialect: DialectPostgres}
	my := &SQLStore{dialect: DialectMySQL}

	q := "SELECT * FROM ai_metrics WHERE created >= ? AND created <= ?"

	if got := pg.rebind(q); got != "SELECT * FROM ai_metrics WHERE created >= $1 AND created <= $2" {
		t.Errorf("postgres rebind = %q", got)
	}
	if got := my.rebind(q); got != q {
		t.Errorf("mysql rebind should be identity, got %q", got)
	}
}

func TestInsert(t *testing.T) {
	store, mock := newMockedStore(t, DialectPostgres)

	mock.ExpectExec("INSERT INTO ai_metrics").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec, err := store.Insert(context.Background(), RecordInput{
		TaskType:        "google_translate_text",
		ExecutionTimeMS: 250,
		Success:         true,
		CostUSD:         floatPtr(0.002),
	})
	if err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	if rec.ID == "" {
		t.Error("expected generated uuid")
	}
	if rec.Created.IsZero() {
		t.Error("expected created timestamp")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestInsertValidationSkipsDatabase(t *testing.T) {
	store, mock := newMockedStore(t, DialectPostgres)

	// No expectations registered: a validation failure must not touch
	// the database at all
	_, err := store.Insert(context.Background(), RecordInput{TaskType: ""})

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Field != "task_type" {
		t.Errorf("Field = %q, want task_type", verr.Field)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("validation failure must not hit the database: %v", err)
	}
}

func TestInsertStorageError(t *testing.T) {
	store, mock := newMockedStore(t, DialectPostgres)

	mock.ExpectExec("INSERT INTO ai_metrics").
		WillReturnError(errors.New("connection refused"))

	_, err := store.Insert(context.Background(), RecordInput{
		TaskType: "summarize",
		Success:  true,
	})
	if !errors.Is(err, ErrStorage) {
		t.Errorf("expected ErrStorage, got %v", err)
	}
}

func TestSumCostByDateRangeSQL(t *testing.T) {
	store, mock := newMockedStore(t, DialectPostgres)

	start := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 8, 31, 23, 59, 59, 0, time.UTC)

	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(cost_usd\\), 0\\)").
		WithArgs(start, end).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(2.00))

	total, err := store.SumCostByDateRange(context.Background(), start, end)
	if err != nil {
		t.Fatalf("SumCostByDateRange() error: %v", err)
	}
	if total != 2.00 {
		t.Errorf("total = %v, want 2.00", total)
	}
}

func TestRecentErrorsSQL(t *testing.T) {
	store, mock := newMockedStore(t, DialectPostgres)

	created := time.Date(2025, 8, 20, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "task_type", "execution_time_ms", "tokens_used", "cost_usd",
		"success", "error_message", "model_used", "created",
	}).AddRow(
		"9d3e9d6e-0000-0000-0000-000000000001", "anthropic_seo", 800,
		nil, 0.008, false, "Rate limit exceeded", "Claude-3-Sonnet", created,
	)

	mock.ExpectQuery("ORDER BY created DESC, seq DESC").
		WithArgs(false, 1).
		WillReturnRows(rows)

	recs, err := store.RecentErrors(context.Background(), 1)
	if err != nil {
		t.Fatalf("RecentErrors() error: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}

	rec := recs[0]
	if rec.Success {
		t.Error("expected success=false")
	}
	if rec.ErrorMessage == nil || *rec.ErrorMessage != "Rate limit exceeded" {
		t.Errorf("error_message = %v", rec.ErrorMessage)
	}
	if rec.TokensUsed != nil {
		t.Error("null tokens_used should stay nil")
	}
	if rec.CostUSD == nil || *rec.CostUSD != 0.008 {
		t.Errorf("cost_usd = %v, want 0.008", rec.CostUSD)
	}
}

func TestRecentErrorsInvalidLimit(t *testing.T) {
	store, _ := newMockedStore(t, DialectPostgres)

	if _, err := store.RecentErrors(context.Background(), 0); !errors.Is(err, ErrInvalidLimit) {
		t.Errorf("expected ErrInvalidLimit, got %v", err)
	}
}

func TestTaskTypeSummarySQL(t *testing.T) {
	store, mock := newMockedStore(t, DialectMySQL)

	start := time.Unix(0, 0).UTC()
	end := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"task_type", "count", "avg_time", "success_rate", "total_cost", "total_tokens",
	}).
		AddRow("summarize", 2, 200.0, 50.0, 0.016, 1200).
		AddRow("translate", 1, 50.0, 100.0, 0.002, 0)

	mock.ExpectQuery("GROUP BY task_type").
		WithArgs(start, end).
		WillReturnRows(rows)

	summaries, err := store.TaskTypeSummary(context.Background(), start, end)
	if err != nil {
		t.Fatalf("TaskTypeSummary() error: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("got %d summaries, want 2", len(summaries))
	}
	if summaries[0].TaskType != "summarize" || summaries[0].SuccessRatePercent != 50.0 {
		t.Errorf("summaries[0] = %+v", summaries[0])
	}
}

func TestFindByDateRangeStorageError(t *testing.T) {
	store, mock := newMockedStore(t, DialectPostgres)

	mock.ExpectQuery("FROM ai_metrics").
		WillReturnError(errors.New("server closed the connection"))

	_, err := store.FindByDateRange(context.Background(), time.Unix(0, 0), time.Now())
	if !errors.Is(err, ErrStorage) {
		t.Errorf("expected ErrStorage, got %v", err)
	}
}

func TestEnsureSchema(t *testing.T) {
	store, mock := newMockedStore(t, DialectPostgres)

	// Postgres schema runs three statements: table plus two indexes
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS ai_metrics").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_ai_metrics_created").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_ai_metrics_task_type").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
