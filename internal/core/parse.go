package core

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// missingColumnsNote is the text of the missing_columns warning.
const missingColumnsNote = "Some DB columns absent in CSV; they will be inserted as NULL."

// decodeUpload honors and strips a UTF-8 or UTF-16 BOM and replaces invalid
// UTF-8 sequences with U+FFFD.
func decodeUpload(data []byte) ([]byte, error) {
	decoded, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
	return decoded, err
}

// trimAfterQuotes drops spaces and tabs between a closing quote and the
// delimiter or line end that follows it, so `"Asha Rao" ,x` reads like
// `"Asha Rao",x`. Anything else after a closing quote is left for the csv
// reader to reject.
func trimAfterQuotes(data []byte) []byte {
	out := make([]byte, 0, len(data))
	fieldStart, quoted := true, false

	for i := 0; i < len(data); i++ {
		c := data[i]
		switch {
		case quoted && c == '"' && i+1 < len(data) && data[i+1] == '"':
			out = append(out, c, c)
			i++
		case quoted && c == '"':
			quoted = false
			out = append(out, c)
			j := i + 1
			for j < len(data) && (data[j] == ' ' || data[j] == '\t') {
				j++
			}
			if j == len(data) || data[j] == ',' || data[j] == '\n' || data[j] == '\r' {
				i = j - 1
			}
		case quoted:
			out = append(out, c)
		case c == ',' || c == '\n' || c == '\r':
			fieldStart = true
			out = append(out, c)
		case fieldStart && (c == ' ' || c == '\t'):
			out = append(out, c)
		case fieldStart && c == '"':
			fieldStart, quoted = false, true
			out = append(out, c)
		default:
			fieldStart = false
			out = append(out, c)
		}
	}
	return out
}

func newCSVReader(data []byte) *csv.Reader {
	cr := csv.NewReader(bytes.NewReader(trimAfterQuotes(data)))
	cr.TrimLeadingSpace = true
	// Field counts are checked after blank records are dropped.
	cr.FieldsPerRecord = -1
	return cr
}

// ParseCSV reads a comma-separated upload whose first record is the header.
// Headers are trimmed and canonicalized; blank lines and records whose every
// cell is blank are skipped; cells are trimmed, including whitespace around
// quoted cells. A non-blank record whose field count differs from the header,
// or a malformed quote, is an *InputError.
func ParseCSV(data []byte) (headers []string, rows []RawRow, err error) {
	data, err = decodeUpload(data)
	if err != nil {
		return nil, nil, &InputError{Err: err}
	}
	cr := newCSVReader(data)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, ErrNoDataRows
	}
	if err != nil {
		return nil, nil, &InputError{Err: err}
	}

	headers = make([]string, len(header))
	for i, h := range header {
		headers[i] = CanonicalizeHeader(strings.TrimSpace(h))
	}

	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, &InputError{Err: err}
		}
		if isBlankRecord(record) {
			continue
		}
		if len(record) != len(headers) {
			line, _ := cr.FieldPos(0)
			return nil, nil, &InputError{Err: &csv.ParseError{
				StartLine: line, Line: line, Column: 1, Err: csv.ErrFieldCount,
			}}
		}

		row := make(RawRow, len(headers))
		for i, h := range headers {
			row[h] = strings.TrimSpace(record[i])
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return headers, nil, ErrNoDataRows
	}
	return headers, rows, nil
}

func isBlankRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// MissingColumns returns the canonical columns absent from headers, in
// canonical order.
func MissingColumns(headers []string) []string {
	present := make(map[string]struct{}, len(headers))
	for _, h := range headers {
		present[h] = struct{}{}
	}

	var missing []string
	for _, c := range CanonicalColumns {
		if _, ok := present[string(c)]; !ok {
			missing = append(missing, string(c))
		}
	}
	return missing
}

// MapRows projects rows onto the accepted columns, dropping unknown headers,
// and reports the accepted columns the upload lacks. Absent columns are
// written as NULL.
func MapRows(headers []string, rows []RawRow) ([]RawRow, []Warning) {
	accepted := make([]string, 0, ColumnCount)
	for _, h := range headers {
		if _, ok := LookupColumn(h); ok {
			accepted = append(accepted, h)
		}
	}

	mapped := make([]RawRow, len(rows))
	for i, r := range rows {
		m := make(RawRow, len(accepted))
		for _, h := range accepted {
			m[h] = r[h]
		}
		mapped[i] = m
	}

	missing := MissingColumns(headers)
	if len(missing) == 0 {
		return mapped, nil
	}
	return mapped, []Warning{{
		Type:    WarningMissingColumns,
		Note:    missingColumnsNote,
		Columns: missing,
	}}
}

// describeParseError renders a csv.ParseError the way operators read it.
func describeParseError(err error) string {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return fmt.Sprintf("line %d, column %d: %v", pe.Line, pe.Column, pe.Err)
	}
	return err.Error()
}
