package eventing

import (
	"context"
	"database/sql"
)

type noopExecer struct{}

func (noopExecer) ExecContext(context.Context, string, ...any) (sql.Result, error) { return nil, nil }
func (noopExecer) QueryContext(context.Context, string, ...any) (*sql.Rows, error) { return nil, nil }
func (noopExecer) QueryRowContext(context.Context, string, ...any) *sql.Row        { return nil }
