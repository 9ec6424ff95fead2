package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/trace"

	"github.com/felipepmaragno/sqlassist/internal/domain"
	"github.com/felipepmaragno/sqlassist/internal/metrics"
	"github.com/felipepmaragno/sqlassist/internal/telemetry"
)

const (
	MessageExecuted = "Query executed successfully"
	MessageNoRows   = "No results found."
)

// Executor runs generated statements against the user's database.
type Executor struct {
	db *sql.DB
}

func NewExecutor(db *sql.DB) *Executor {
	return &Executor{db: db}
}

// Fetch runs a read statement. Zero matching rows yield an empty, non-nil slice.
func (e *Executor) Fetch(ctx context.Context, stmt string) ([]domain.Row, error) {
	ctx, span := telemetry.StartSpan(ctx, "repository.Fetch")
	defer span.End()
	telemetry.AddStatementAttributes(span, domain.Statement{Text: stmt, Kind: domain.StatementRead})

	rows, err := e.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, e.fetchFailed(span, stmt, err)
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		return nil, e.fetchFailed(span, stmt, err)
	}

	metrics.RecordStatement(string(domain.StatementRead), "success")
	return result, nil
}

func (e *Executor) fetchFailed(span trace.Span, stmt string, err error) error {
	telemetry.RecordError(span, err)
	logDriverError("read statement failed", stmt, err)
	metrics.RecordStatement(string(domain.StatementRead), "error")
	return fmt.Errorf("%w: %w", domain.ErrFetchFailed, err)
}

// Execute runs a mutating statement in its own transaction. Driver errors roll
// the transaction back and come back as a failed outcome, never as an error.
func (e *Executor) Execute(ctx context.Context, stmt string) domain.ExecutionOutcome {
	ctx, span := telemetry.StartSpan(ctx, "repository.Execute")
	defer span.End()
	telemetry.AddStatementAttributes(span, domain.Statement{Text: stmt, Kind: domain.StatementWrite})

	if err := e.execInTx(ctx, stmt); err != nil {
		telemetry.RecordError(span, err)
		logDriverError("write statement failed", stmt, err)
		metrics.RecordStatement(string(domain.StatementWrite), "error")
		return domain.ExecutionOutcome{
			Statement: stmt,
			Kind:      domain.OutcomeExecuted,
			Success:   false,
			Message:   "Error with query: " + stmt,
			Error:     err.Error(),
			Err:       fmt.Errorf("%w: %w", domain.ErrExecutionFailed, err),
		}
	}

	metrics.RecordStatement(string(domain.StatementWrite), "success")
	return domain.ExecutionOutcome{
		Statement: stmt,
		Kind:      domain.OutcomeExecuted,
		Success:   true,
		Message:   MessageExecuted,
	}
}

func (e *Executor) execInTx(ctx context.Context, stmt string) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func scanRows(rows *sql.Rows) ([]domain.Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := make([]domain.Row, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(domain.Row, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		result = append(result, row)
	}

	return result, rows.Err()
}

func logDriverError(msg, stmt string, err error) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		slog.Warn(msg,
			"statement", stmt,
			"code", pqErr.Code,
			"severity", pqErr.Severity,
			"detail", pqErr.Detail,
			"error", pqErr.Message,
		)
		return
	}
	slog.Warn(msg, "statement", stmt, "error", err)
}
