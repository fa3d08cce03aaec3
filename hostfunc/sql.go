package hostfunc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const DefaultMaxRows = 10000

// SQL runs statements against a database/sql handle. It does not own the
// handle; whoever opened it closes it.
type SQL struct {
	db      *sql.DB
	maxRows int
}

func NewSQL(db *sql.DB, maxRows int) *SQL {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return &SQL{db: db, maxRows: maxRows}
}

func queryArgs(args map[string]any) (string, []any, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return "", nil, errors.New("query required")
	}
	switch v := args["args"].(type) {
	case nil:
		return query, nil, nil
	case []any:
		return query, v, nil
	default:
		return query, []any{v}, nil
	}
}

// Exec returns the number of affected rows.
func (s *SQL) Exec(ctx context.Context, args map[string]any) (any, error) {
	query, params, err := queryArgs(args)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("exec: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// Query returns rows as a list of column-name keyed tables.
func (s *SQL) Query(ctx context.Context, args map[string]any) (any, error) {
	query, params, err := queryArgs(args)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}

	out := make([]any, 0)
	for rows.Next() {
		if len(out) >= s.maxRows {
			return nil, fmt.Errorf("query returned more than %d rows", s.maxRows)
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = columnValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func columnValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return x
	}
}

func (s *SQL) Specs() []Spec {
	return []Spec{
		{Name: "sql_exec", Params: []string{"query", "args"}, Fn: s.Exec},
		{Name: "sql_query", Params: []string{"query", "args"}, Fn: s.Query},
	}
}
