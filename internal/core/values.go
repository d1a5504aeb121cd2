package core

// values.go converts between cell strings, pgtype values, and bind parameters.
//
// Every student column is bound as untyped text so PostgreSQL applies its own
// input conversion (dates, integers) against the target column type. Cells are
// never parsed client-side.

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// ToPgText converts a string to pgtype.Text.
// Returns invalid if the string is empty or only whitespace.
func ToPgText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// bindValue returns the parameter for t: nil for NULL, the string otherwise.
// A plain string is sent in text format and cast by the server, which lets one
// code path write text, date, and integer columns alike.
func bindValue(t pgtype.Text) any {
	if !t.Valid {
		return nil
	}
	return t.String
}

// jsonToPgText converts a decoded JSON value to pgtype.Text.
// null and blank strings become NULL; numbers and booleans use their literal form.
func jsonToPgText(v any) pgtype.Text {
	switch x := v.(type) {
	case nil:
		return pgtype.Text{}
	case string:
		return ToPgText(x)
	case json.Number:
		return ToPgText(x.String())
	case float64:
		return ToPgText(strconv.FormatFloat(x, 'f', -1, 64))
	case bool:
		return ToPgText(strconv.FormatBool(x))
	default:
		return ToPgText(fmt.Sprint(x))
	}
}

// quoteQualified quotes a possibly schema-qualified name such as
// "public.student_master" for safe interpolation into SQL.
func quoteQualified(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

// quoteIdent quotes a single identifier.
func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// splitQualified returns the schema and relation of name, defaulting the
// schema to public.
func splitQualified(name string) (schema, rel string) {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "public", name
}
