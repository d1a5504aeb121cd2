package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// fakeRow is a pgx.Row returning fixed values or an error.
type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.vals) {
		return fmt.Errorf("fakeRow: scan %d dests, have %d values", len(dest), len(r.vals))
	}
	for i, d := range dest {
		v := r.vals[i]
		switch p := d.(type) {
		case *string:
			*p = v.(string)
		case *bool:
			*p = v.(bool)
		case *int64:
			*p = v.(int64)
		case *pgtype.Text:
			if v == nil {
				*p = pgtype.Text{}
			} else {
				*p = pgtype.Text{String: v.(string), Valid: true}
			}
		case *pgtype.Int8:
			if v == nil {
				*p = pgtype.Int8{}
			} else {
				*p = pgtype.Int8{Int64: v.(int64), Valid: true}
			}
		default:
			return fmt.Errorf("fakeRow: unsupported dest %T", d)
		}
	}
	return nil
}

func row(vals ...any) pgx.Row { return fakeRow{vals: vals} }

func rowErr(err error) pgx.Row { return fakeRow{err: err} }

// call records one statement sent to the fake database.
type call struct {
	sql  string
	args []any
}

// fakeDB is an in-memory Store. Handlers decide what each statement returns.
type fakeDB struct {
	mu sync.Mutex

	onQueryRow func(sql string, args []any) pgx.Row
	onQuery    func(sql string, args []any) (pgx.Rows, error)
	onExec     func(sql string, args []any) (pgconn.CommandTag, error)
	beginErr   error

	queryRows []call
	queries   []call
	execs     []call
	txs       []*fakeTx
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	f.execs = append(f.execs, call{sql, args})
	handler := f.onExec
	f.mu.Unlock()

	if handler == nil {
		return pgconn.NewCommandTag(fmt.Sprintf("INSERT 0 %d", tupleCount(sql))), nil
	}
	return handler(sql, args)
}

func (f *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.mu.Lock()
	f.queries = append(f.queries, call{sql, args})
	handler := f.onQuery
	f.mu.Unlock()

	if handler == nil {
		return nil, errors.New("fakeDB: Query not supported")
	}
	return handler(sql, args)
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.mu.Lock()
	f.queryRows = append(f.queryRows, call{sql, args})
	handler := f.onQueryRow
	f.mu.Unlock()

	if handler == nil {
		return rowErr(pgx.ErrNoRows)
	}
	return handler(sql, args)
}

func (f *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	tx := &fakeTx{db: f}
	f.mu.Lock()
	f.txs = append(f.txs, tx)
	f.mu.Unlock()
	return tx, nil
}

func (f *fakeDB) queryRowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queryRows)
}

// fakeTx routes statements to its fakeDB and records how it ended.
// Methods the pipeline never calls are left to the nil embedded interface.
type fakeTx struct {
	pgx.Tx
	db *fakeDB

	committed  bool
	rolledBack bool
	commitErr  error
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.db.Exec(ctx, sql, args...)
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.db.Query(ctx, sql, args...)
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.db.QueryRow(ctx, sql, args...)
}

func (t *fakeTx) Commit(context.Context) error {
	if t.committed || t.rolledBack {
		return pgx.ErrTxClosed
	}
	if t.commitErr != nil {
		t.rolledBack = true
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if t.committed || t.rolledBack {
		return pgx.ErrTxClosed
	}
	t.rolledBack = true
	return nil
}

// tupleCount returns the number of VALUES tuples in an INSERT statement.
func tupleCount(sql string) int {
	start := strings.Index(sql, " VALUES ")
	end := strings.Index(sql, " ON CONFLICT ")
	if start < 0 || end < start {
		return 0
	}
	return strings.Count(sql[start:end], "(")
}
