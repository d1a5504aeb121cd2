package core

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/campusops/admin/internal/config"
	"github.com/campusops/admin/internal/logging"
)

// ResolutionSource records which rule produced a Resolution.
type ResolutionSource int

const (
	// SourceNone means the input was empty and resolves to NULL.
	SourceNone ResolutionSource = iota
	// SourceCodePattern means the input was already a CID code.
	SourceCodePattern
	// SourceKnownName means the input matched a built-in institute name.
	SourceKnownName
	// SourceDirectory means the institute directory returned the code.
	SourceDirectory
	// SourcePassthrough means nothing matched; Value is the trimmed input.
	SourcePassthrough
)

func (s ResolutionSource) String() string {
	switch s {
	case SourceNone:
		return "none"
	case SourceCodePattern:
		return "code"
	case SourceKnownName:
		return "known_name"
	case SourceDirectory:
		return "directory"
	case SourcePassthrough:
		return "passthrough"
	}
	return fmt.Sprintf("source(%d)", int(s))
}

// Resolution is the outcome of resolving an institute token.
// A miss is not an error: the token passes through verbatim.
type Resolution struct {
	Value  string
	Source ResolutionSource
}

// Text returns the value to store, NULL for SourceNone.
func (r Resolution) Text() pgtype.Text {
	if r.Source == SourceNone {
		return pgtype.Text{}
	}
	return pgtype.Text{String: r.Value, Valid: true}
}

// Resolved reports whether the token was mapped to a canonical code.
func (r Resolution) Resolved() bool {
	switch r.Source {
	case SourceCodePattern, SourceKnownName, SourceDirectory:
		return true
	}
	return false
}

var cidPattern = regexp.MustCompile(`(?i)^cid[\s\-_]?(\d+)$`)

// NormalizeInstituteCode rewrites "cid2", "CID-02", "cid_002" and similar to
// the canonical "CID_002". Digit runs shorter than three are zero-padded;
// longer runs are kept as-is. ok is false when s is not a CID code.
func NormalizeInstituteCode(s string) (code string, ok bool) {
	m := cidPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", false
	}
	digits := m[1]
	if len(digits) < 3 {
		digits = strings.Repeat("0", 3-len(digits)) + digits
	}
	return "CID_" + digits, true
}

// InstituteResolver maps free-form institute tokens to canonical codes.
type InstituteResolver struct {
	db     RowQuerier
	known  map[string]string
	lookup string
}

// NewInstituteResolver builds a resolver over the catalog's known names and
// institute directory. db may be nil, in which case the directory is skipped.
func NewInstituteResolver(db RowQuerier, cat config.Catalog) *InstituteResolver {
	known := make(map[string]string, len(cat.KnownInstitutes))
	for name, code := range cat.KnownInstitutes {
		known[strings.ToLower(strings.TrimSpace(name))] = code
	}

	dir := cat.Directory
	lookup := fmt.Sprintf(
		"SELECT %s::text FROM %s WHERE LOWER(%s) = LOWER($1) LIMIT 1",
		quoteIdent(dir.CodeColumn), quoteQualified(dir.Table), quoteIdent(dir.NameColumn),
	)

	return &InstituteResolver{db: db, known: known, lookup: lookup}
}

// Resolve applies, in order: CID code normalization, the known-name table,
// and the institute directory. Directory failures are logged and treated as
// a miss, in which case the trimmed token passes through.
func (r *InstituteResolver) Resolve(ctx context.Context, raw string) Resolution {
	token := strings.TrimSpace(raw)
	if token == "" {
		return Resolution{Source: SourceNone}
	}

	if code, ok := NormalizeInstituteCode(token); ok {
		return Resolution{Value: code, Source: SourceCodePattern}
	}

	if code, ok := r.known[strings.ToLower(token)]; ok {
		return Resolution{Value: code, Source: SourceKnownName}
	}

	if code, ok := r.fromDirectory(ctx, token); ok {
		return Resolution{Value: code, Source: SourceDirectory}
	}

	return Resolution{Value: token, Source: SourcePassthrough}
}

func (r *InstituteResolver) fromDirectory(ctx context.Context, name string) (string, bool) {
	if r.db == nil {
		return "", false
	}

	var code pgtype.Text
	err := r.db.QueryRow(ctx, r.lookup, name).Scan(&code)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			logging.FromContext(ctx).Debug("institute directory lookup failed",
				"name", name, "error", err)
		}
		return "", false
	}
	if !code.Valid || strings.TrimSpace(code.String) == "" {
		return "", false
	}

	// Directory codes are stored in mixed forms; re-normalize when possible.
	if normalized, ok := NormalizeInstituteCode(code.String); ok {
		return normalized, true
	}
	return strings.TrimSpace(code.String), true
}
