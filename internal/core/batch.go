package core

// batch.go writes normalized rows inside one transaction.
//
// Every chunk becomes a single multi-row INSERT over the canonical columns.
// Rows without a stuid put DEFAULT in the id position so the column default
// (normally a sequence) assigns one; every other value is a bind parameter.

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// rollbackTimeout bounds the ROLLBACK issued after a failed or cancelled import.
const rollbackTimeout = 5 * time.Second

// withTx runs fn inside a transaction. It commits when fn returns nil and
// rolls back otherwise. The rollback runs on a context detached from ctx so
// a cancelled request still ends its transaction.
func withTx(ctx context.Context, db TxBeginner, fn func(pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
		defer cancel()
		// No-op once committed.
		_ = tx.Rollback(rbCtx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// chunkRows splits rows into consecutive slices of at most size rows.
func chunkRows(rows []StudentRow, size int) [][]StudentRow {
	if size <= 0 {
		size = max(len(rows), 1)
	}
	chunks := make([][]StudentRow, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		chunks = append(chunks, rows[start:end])
	}
	return chunks
}

// dedupeByID collapses rows sharing an explicit stuid, keeping the last
// occurrence's values at the first occurrence's position. Rows without an id
// are kept as-is. PostgreSQL rejects an ON CONFLICT DO UPDATE statement that
// touches the same row twice.
func dedupeByID(chunk []StudentRow) []StudentRow {
	seen := make(map[string]int, len(chunk))
	out := make([]StudentRow, 0, len(chunk))
	for _, row := range chunk {
		if !row.HasID() {
			out = append(out, row)
			continue
		}
		id := row.Get(ColStudentID).String
		if i, ok := seen[id]; ok {
			out[i] = row
			continue
		}
		seen[id] = len(out)
		out = append(out, row)
	}
	return out
}

// writeStatement holds the SQL and arguments for one chunk.
type writeStatement struct {
	sql  string
	args []any
}

// buildWriteStatement renders the INSERT for chunk against table.
func buildWriteStatement(table string, chunk []StudentRow, mode WriteMode) writeStatement {
	var b strings.Builder
	args := make([]any, 0, len(chunk)*ColumnCount)

	b.WriteString("INSERT INTO ")
	b.WriteString(quoteQualified(table))
	b.WriteString(" (")
	for i, c := range CanonicalColumns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteIdent(string(c)))
	}
	b.WriteString(") VALUES ")

	for r, row := range chunk {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for i, v := range row {
			if i > 0 {
				b.WriteString(", ")
			}
			if CanonicalColumns[i] == ColStudentID && !v.Valid {
				b.WriteString("DEFAULT")
				continue
			}
			args = append(args, bindValue(v))
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(len(args)))
		}
		b.WriteByte(')')
	}

	b.WriteString(" ON CONFLICT (")
	b.WriteString(quoteIdent(string(ColStudentID)))
	b.WriteString(")")

	switch mode {
	case ModeUpsert:
		b.WriteString(" DO UPDATE SET ")
		first := true
		for _, c := range CanonicalColumns {
			if c == ColStudentID {
				continue
			}
			if !first {
				b.WriteString(", ")
			}
			first = false
			q := quoteIdent(string(c))
			b.WriteString(q)
			b.WriteString(" = EXCLUDED.")
			b.WriteString(q)
		}
	default:
		b.WriteString(" DO NOTHING")
	}

	return writeStatement{sql: b.String(), args: args}
}

// writeChunks writes rows to table in chunks of chunkSize, in order, and
// returns the total rows affected. The first failing chunk aborts the loop;
// the caller's transaction then rolls back every earlier chunk.
func writeChunks(ctx context.Context, db DBTX, table string, rows []StudentRow, mode WriteMode, chunkSize int) (int64, error) {
	var affected int64
	for i, chunk := range chunkRows(rows, chunkSize) {
		if mode == ModeUpsert {
			chunk = dedupeByID(chunk)
		}
		stmt := buildWriteStatement(table, chunk, mode)
		tag, err := db.Exec(ctx, stmt.sql, stmt.args...)
		if err != nil {
			return 0, fmt.Errorf("write chunk %d (%d rows): %w", i+1, len(chunk), err)
		}
		affected += tag.RowsAffected()
	}
	return affected, nil
}
