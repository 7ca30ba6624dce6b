package store

import (
	"context"
	"database/sql"
)

// DBTX is the query surface the Postgres stores run against. Both *sql.DB
// and *sql.Tx satisfy it, so a store can execute standalone or join a
// caller-managed transaction (see TaskStore.WithTx) without changing its
// queries.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
