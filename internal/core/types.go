package core

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// RowQuerier is the single-row lookup used by the resolvers.
type RowQuerier interface {
	QueryRow(context.Context, string, ...any) pgx.Row
}

// TxBeginner opens transactions. Satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(context.Context) (pgx.Tx, error)
}

// Store is everything the Service needs from the database pool.
type Store interface {
	DBTX
	TxBeginner
}

// WriteMode selects the conflict policy of a bulk import.
type WriteMode string

const (
	// ModeInsert skips rows whose stuid already exists.
	ModeInsert WriteMode = "insert"
	// ModeUpsert overwrites every non-id column of an existing row.
	ModeUpsert WriteMode = "upsert"
)

// ParseWriteMode accepts "insert" or "upsert" (case-sensitive).
func ParseWriteMode(s string) (WriteMode, bool) {
	switch WriteMode(s) {
	case ModeInsert, ModeUpsert:
		return WriteMode(s), true
	}
	return "", false
}

// ImportPhase indicates the current stage of import processing.
type ImportPhase string

const (
	PhaseReceived   ImportPhase = "received"
	PhaseParsed     ImportPhase = "parsed"
	PhaseMapped     ImportPhase = "mapped"
	PhaseNormalized ImportPhase = "normalized"
	PhaseWriting    ImportPhase = "writing"
	PhaseCommitted  ImportPhase = "committed"
	PhaseFailed     ImportPhase = "failed"
)

// Warning is a non-fatal observation about an import.
type Warning struct {
	Type    string   `json:"type"`
	Note    string   `json:"note"`
	Columns []string `json:"columns"`
}

// WarningMissingColumns is the Type of the warning listing accepted columns
// absent from the upload header.
const WarningMissingColumns = "missing_columns"

// ImportResult contains the final result of an import.
type ImportResult struct {
	ImportID string
	Mode     WriteMode
	// TotalRows is the number of data rows parsed from the upload.
	TotalRows int
	// Inserted is the number of new rows (insert mode only).
	Inserted int64
	// Skipped is TotalRows - Inserted (insert mode only).
	Skipped int64
	// Affected is the number of rows inserted or updated (upsert mode only).
	Affected int64
	Warnings []Warning
	Duration time.Duration
}
