// Package store wraps the embedded relational engine (modernc.org/sqlite)
// behind the narrow contract the rest of ThalamusDB depends on: execute a
// statement, list a table's columns, and describe the whole schema.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	_ "modernc.org/sqlite"

	"github.com/thalamusdb/thalamusdb/internal/tdberr"
)

// ColumnInfo describes one column of a base table.
type ColumnInfo struct {
	Name string
	Type string
}

// Engine is the underlying relational engine contract: execute(sql) →
// rows, columns(table) → [(name,type)], schema() → {table:{col:type}}.
type Engine struct {
	db     *sql.DB
	tracer trace.Tracer
}

// Open creates an Engine backed by a modernc.org/sqlite database file (or
// ":memory:" for an ephemeral in-process database), instrumented with the
// given tracer.
func Open(ctx context.Context, path string, tracer trace.Tracer) (*Engine, error) {
	ctx, span := tracer.Start(ctx, "store.Open", trace.WithAttributes(attribute.String("db.path", path)))
	defer span.End()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, tdberr.NewEngineError("failed to open database", err)
	}
	// Scratch tables are TEMP (connection-scoped) and a ":memory:"
	// database exists per connection, so the pool is pinned to a single
	// long-lived connection. Every caller materializes its rows before
	// issuing the next statement, so one connection never deadlocks.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, tdberr.NewEngineError("failed to ping database", err)
	}

	return &Engine{db: db, tracer: tracer}, nil
}

// Close releases the underlying connection pool.
func (e *Engine) Close() error {
	return e.db.Close()
}

// DB exposes the raw *sql.DB for direct query/exec access beyond this
// narrow contract.
func (e *Engine) DB() *sql.DB {
	return e.db
}

// Execute runs sql and returns its rows. Callers are responsible for
// closing the returned *sql.Rows.
func (e *Engine) Execute(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	ctx, span := e.tracer.Start(ctx, "store.Execute", trace.WithAttributes(attribute.String("db.statement", query)))
	defer span.End()

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, tdberr.NewEngineError(fmt.Sprintf("query failed: %s", query), err)
	}
	return rows, nil
}

// Exec runs a statement that does not return rows (DDL, COPY-equivalent
// inserts, ALTER TABLE passthrough).
func (e *Engine) Exec(ctx context.Context, stmt string, args ...any) error {
	ctx, span := e.tracer.Start(ctx, "store.Exec", trace.WithAttributes(attribute.String("db.statement", stmt)))
	defer span.End()

	if _, err := e.db.ExecContext(ctx, stmt, args...); err != nil {
		return tdberr.NewEngineError(fmt.Sprintf("exec failed: %s", stmt), err)
	}
	return nil
}

// Columns returns the name and declared type of every column in table.
func (e *Engine) Columns(ctx context.Context, table string) ([]ColumnInfo, error) {
	rows, err := e.Execute(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, tdberr.NewEngineError("failed to scan table_info row", err)
		}
		cols = append(cols, ColumnInfo{Name: name, Type: colType})
	}
	if len(cols) == 0 {
		return nil, tdberr.NewSchemaError(fmt.Sprintf("no such table: %s", table), nil)
	}
	return cols, rows.Err()
}

// Schema returns every base table's column→type map.
func (e *Engine) Schema(ctx context.Context) (map[string]map[string]string, error) {
	rows, err := e.Execute(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'")
	if err != nil {
		return nil, err
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, tdberr.NewEngineError("failed to scan table name", err)
		}
		tables = append(tables, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, tdberr.NewEngineError("failed to list tables", err)
	}

	schema := make(map[string]map[string]string, len(tables))
	for _, table := range tables {
		cols, err := e.Columns(ctx, table)
		if err != nil {
			return nil, err
		}
		colMap := make(map[string]string, len(cols))
		for _, c := range cols {
			colMap[c.Name] = c.Type
		}
		schema[table] = colMap
	}
	return schema, nil
}

// ScanRows materializes *sql.Rows into a slice of column-name→value maps,
// closing rows when done. Values are left as whatever driver.Value the
// sqlite driver produced (int64, float64, string, []byte, or nil).
func ScanRows(rows *sql.Rows) ([]map[string]any, []string, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, tdberr.NewEngineError("failed to read result columns", err)
	}

	var out []map[string]any
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, tdberr.NewEngineError("failed to scan result row", err)
		}
		row := make(map[string]any, len(cols))
		for i, name := range cols {
			row[name] = raw[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, tdberr.NewEngineError("error iterating result rows", err)
	}
	return out, cols, nil
}

func quoteIdent(ident string) string {
	return `"` + ident + `"`
}
