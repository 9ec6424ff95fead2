package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/felipepmaragno/sqlassist/internal/domain"
	"github.com/felipepmaragno/sqlassist/internal/telemetry"
)

const (
	databaseNameQuery = `SELECT current_database()`

	columnsQuery = `
		SELECT table_name, column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = 'public'
		ORDER BY table_name, ordinal_position
	`

	primaryKeysQuery = `
		SELECT tc.table_name, kcu.column_name
		FROM information_schema.table_constraints AS tc
		JOIN information_schema.key_column_usage AS kcu
		  ON tc.constraint_name = kcu.constraint_name
		WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = 'public'
	`

	foreignKeysQuery = `
		SELECT tc.table_name, kcu.column_name, ccu.table_name, ccu.column_name
		FROM information_schema.table_constraints AS tc
		JOIN information_schema.key_column_usage AS kcu
		  ON tc.constraint_name = kcu.constraint_name
		JOIN information_schema.constraint_column_usage AS ccu
		  ON ccu.constraint_name = tc.constraint_name
		WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = 'public'
	`
)

type PostgresIntrospector struct {
	db *sql.DB
}

func NewPostgresIntrospector(db *sql.DB) *PostgresIntrospector {
	return &PostgresIntrospector{db: db}
}

// Introspect reads the public schema on every call. Keys are attached only to
// tables the column pass returned.
func (r *PostgresIntrospector) Introspect(ctx context.Context) (*domain.Schema, error) {
	ctx, span := telemetry.StartSpan(ctx, "repository.Introspect")
	defer span.End()

	schema := &domain.Schema{Tables: make([]*domain.Table, 0)}

	if err := r.db.QueryRowContext(ctx, databaseNameQuery).Scan(&schema.Database); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w: query database name: %w", domain.ErrFetchFailed, err)
	}

	if err := r.loadColumns(ctx, schema); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w: %w", domain.ErrFetchFailed, err)
	}
	if err := r.loadPrimaryKeys(ctx, schema); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w: %w", domain.ErrFetchFailed, err)
	}
	if err := r.loadForeignKeys(ctx, schema); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w: %w", domain.ErrFetchFailed, err)
	}

	return schema, nil
}

func (r *PostgresIntrospector) loadColumns(ctx context.Context, schema *domain.Schema) error {
	rows, err := r.db.QueryContext(ctx, columnsQuery)
	if err != nil {
		return fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tableName string
		var col domain.Column
		if err := rows.Scan(&tableName, &col.Name, &col.DataType); err != nil {
			return fmt.Errorf("scan column: %w", err)
		}

		table, ok := schema.Table(tableName)
		if !ok {
			table = &domain.Table{Name: tableName, ForeignKeys: make([]domain.ForeignKey, 0)}
			schema.Tables = append(schema.Tables, table)
		}
		table.Columns = append(table.Columns, col)
	}

	return rows.Err()
}

func (r *PostgresIntrospector) loadPrimaryKeys(ctx context.Context, schema *domain.Schema) error {
	rows, err := r.db.QueryContext(ctx, primaryKeysQuery)
	if err != nil {
		return fmt.Errorf("query primary keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tableName, column string
		if err := rows.Scan(&tableName, &column); err != nil {
			return fmt.Errorf("scan primary key: %w", err)
		}
		if table, ok := schema.Table(tableName); ok {
			table.PrimaryKey = column
		}
	}

	return rows.Err()
}

func (r *PostgresIntrospector) loadForeignKeys(ctx context.Context, schema *domain.Schema) error {
	rows, err := r.db.QueryContext(ctx, foreignKeysQuery)
	if err != nil {
		return fmt.Errorf("query foreign keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tableName string
		var fk domain.ForeignKey
		if err := rows.Scan(&tableName, &fk.Column, &fk.ReferencedTable, &fk.ReferencedColumn); err != nil {
			return fmt.Errorf("scan foreign key: %w", err)
		}
		if table, ok := schema.Table(tableName); ok {
			table.ForeignKeys = append(table.ForeignKeys, fk)
		}
	}

	return rows.Err()
}
