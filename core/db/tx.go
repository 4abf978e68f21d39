package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/searchktools/webserv/core/pools"
)

var (
	// ErrTooFewParams means the template has more unescaped '?' than
	// parameters.
	ErrTooFewParams = errors.New("db: too few parameters")
	// ErrTooManyParams means parameters were left over after the template
	// was consumed.
	ErrTooManyParams = errors.New("db: too many parameters")
)

// The driver is synchronous, so statements run on a bounded executor and
// the calling goroutine parks on a channel until the rows are in.
var (
	execPool     *pools.WorkerPool
	execPoolOnce sync.Once
)

func blockingExec(task func()) {
	execPoolOnce.Do(func() {
		execPool = pools.NewWorkerPool(0)
	})
	execPool.Do(task)
}

// Tx wraps a transaction on a pooled connection. Changes are discarded
// unless Commit is called.
type Tx struct {
	tx sqlTx
}

// sqlTx is the slice of *sql.Tx the templater needs; tests substitute it.
type sqlTx interface {
	Query(query string, args ...any) (rowIterator, error)
	Commit() error
	Rollback() error
}

// Exec renders the template with the given parameters and runs the
// resulting statement, materializing all rows.
//
// In the template a '?' consumes one parameter and '??' emits a literal
// '?'. Parameter renderings are substituted verbatim and never re-scanned:
//
//	tx.Exec("select * from ? where ? = ? and name = 'n??'",
//	        db.Name("u"), db.Name("active"), true)
//	// select * from "u" where "active" = true and name = 'n?'
func (t *Tx) Exec(template string, args ...any) (*Result, error) {
	query, err := Render(template, args...)
	if err != nil {
		return nil, err
	}
	var (
		res     *Result
		execErr error
	)
	blockingExec(func() {
		res, execErr = runQuery(t.tx, query)
	})
	return res, execErr
}

// Commit makes the transaction's changes permanent.
func (t *Tx) Commit() error {
	var err error
	blockingExec(func() { err = t.tx.Commit() })
	return err
}

// Rollback abandons the transaction.
func (t *Tx) Rollback() error {
	var err error
	blockingExec(func() { err = t.tx.Rollback() })
	return err
}

// Render materializes a template into an executable SQL string.
func Render(template string, args ...any) (string, error) {
	rendered := make([]string, len(args))
	for i, arg := range args {
		p, err := convertParam(arg)
		if err != nil {
			return "", err
		}
		if rendered[i], err = p.render(); err != nil {
			return "", err
		}
	}

	var b strings.Builder
	b.Grow(len(template))
	idx := 0
	for i := 0; i < len(template); i++ {
		if template[i] != '?' {
			b.WriteByte(template[i])
			continue
		}
		if i+1 < len(template) && template[i+1] == '?' {
			b.WriteByte('?')
			i++
			continue
		}
		if idx >= len(rendered) {
			return "", fmt.Errorf("%w: template %q", ErrTooFewParams, template)
		}
		b.WriteString(rendered[idx])
		idx++
	}
	if idx != len(rendered) {
		return "", fmt.Errorf("%w: template %q", ErrTooManyParams, template)
	}
	return b.String(), nil
}

// realTx adapts *sql.Tx to the sqlTx interface.
type realTx struct {
	tx *sql.Tx
}

func (r realTx) Query(query string, args ...any) (rowIterator, error) {
	rows, err := r.tx.Query(query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r realTx) Commit() error   { return r.tx.Commit() }
func (r realTx) Rollback() error { return r.tx.Rollback() }

// rowIterator is the part of *sql.Rows the materializer uses.
type rowIterator interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

func runQuery(tx sqlTx, query string) (*Result, error) {
	rows, err := tx.Query(query)
	if err != nil {
		return nil, fmt.Errorf("db: exec %q: %w", query, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("db: columns: %w", err)
	}
	res := &Result{query: query, columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("db: scan: %w", err)
		}
		res.rows = append(res.rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: rows: %w", err)
	}
	return res, nil
}

// Result is a fully materialized query result.
type Result struct {
	query   string
	columns []string
	rows    [][]any
}

// Query returns the SQL string that produced the result.
func (r *Result) Query() string { return r.query }

// Columns returns the column names in select order.
func (r *Result) Columns() []string { return r.columns }

// Len returns the number of rows.
func (r *Result) Len() int { return len(r.rows) }

// Row returns the i-th row's raw driver values.
func (r *Result) Row(i int) []any { return r.rows[i] }
