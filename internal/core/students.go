package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// Student list paging defaults.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Student is one row of the student table, keyed by column name.
// Columns outside the canonical set (timestamps, audit columns) are included.
type Student map[string]any

// StudentList is one page of students plus the total matching count.
type StudentList struct {
	Total int64     `json:"total"`
	Rows  []Student `json:"rows"`
}

// ListQuery filters and pages the student list.
type ListQuery struct {
	// Search matches stuid, stuname, or stu_rollnumber case-insensitively.
	Search string
	Limit  int
	Offset int
}

func (q ListQuery) normalized() ListQuery {
	q.Search = strings.TrimSpace(q.Search)
	if q.Limit <= 0 {
		q.Limit = DefaultListLimit
	}
	q.Limit = min(q.Limit, MaxListLimit)
	q.Offset = max(q.Offset, 0)
	return q
}

// searchFilter renders the WHERE clause for a search term bound at $1.
func searchFilter() string {
	return fmt.Sprintf("WHERE (%s::text ILIKE $1 OR %s ILIKE $1 OR %s ILIKE $1)",
		quoteIdent(string(ColStudentID)), quoteIdent(string(ColName)), quoteIdent(string(ColRollNumber)))
}

// ListStudents returns students newest first.
func (s *Service) ListStudents(ctx context.Context, q ListQuery) (*StudentList, error) {
	q = q.normalized()
	table := quoteQualified(s.catalog.StudentTable)

	var (
		where string
		args  []any
	)
	if q.Search != "" {
		where = searchFilter()
		args = append(args, "%"+q.Search+"%")
	}

	var total int64
	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM %s %s", table, where)
	if err := s.db.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count students: %w", err)
	}

	listSQL := fmt.Sprintf("SELECT * FROM %s %s ORDER BY %s DESC NULLS LAST LIMIT $%d OFFSET $%d",
		table, where, quoteIdent(s.catalog.OrderColumn), len(args)+1, len(args)+2)
	rows, err := s.db.Query(ctx, listSQL, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	students, err := pgx.CollectRows(rows, rowToStudent)
	if err != nil {
		return nil, fmt.Errorf("scan students: %w", err)
	}
	if students == nil {
		students = []Student{}
	}

	return &StudentList{Total: total, Rows: students}, nil
}

// byIDClause matches stuid against a parameter. The id is bound as text and
// converted by the server to the column's own type, so the primary key index
// serves the lookup whether stuid is numeric or text.
func byIDClause(param int) string {
	return fmt.Sprintf("WHERE %s = $%d", quoteIdent(string(ColStudentID)), param)
}

// isInvalidIDText reports whether PostgreSQL rejected a value as input for its
// type (SQLSTATE 22P02), as it does for "abc" against a bigint stuid.
func isInvalidIDText(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

func rowToStudent(row pgx.CollectableRow) (Student, error) {
	m, err := pgx.RowToMap(row)
	return Student(m), err
}

// GetStudent returns the student with the given stuid.
func (s *Service) GetStudent(ctx context.Context, id string) (Student, error) {
	query := fmt.Sprintf("SELECT * FROM %s %s", quoteQualified(s.catalog.StudentTable), byIDClause(1))

	var st Student
	rows, err := s.db.Query(ctx, query, id)
	if err == nil {
		st, err = pgx.CollectOneRow(rows, rowToStudent)
	}
	switch {
	case errors.Is(err, pgx.ErrNoRows), isInvalidIDText(err):
		return nil, ErrStudentNotFound
	case err != nil:
		return nil, fmt.Errorf("get student: %w", err)
	}
	return st, nil
}

// studentExists reports whether a row has the given stuid. An id the column
// type cannot represent does not exist.
func (s *Service) studentExists(ctx context.Context, id string) (bool, error) {
	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s %s)", quoteQualified(s.catalog.StudentTable), byIDClause(1))

	var exists bool
	err := s.db.QueryRow(ctx, query, id).Scan(&exists)
	if isInvalidIDText(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check student: %w", err)
	}
	return exists, nil
}

// UpdateStudent applies a partial update. Only canonical columns other than
// stuid are accepted; other keys are ignored. Values go through the same
// normalization as an import, including institute resolution and course
// fill. Returns ErrNoUpdatableFields when nothing is left to set and
// ErrStudentNotFound when no row matches.
func (s *Service) UpdateStudent(ctx context.Context, id string, body map[string]any) (Student, error) {
	fields := make(map[Column]pgtype.Text, len(body))
	for key, v := range body {
		c, ok := LookupColumn(key)
		if !ok || c == ColStudentID {
			continue
		}
		fields[c] = jsonToPgText(v)
	}
	if len(fields) == 0 {
		return nil, ErrNoUpdatableFields
	}

	norm := NewNormalizer(s.institutes, s.courses, false)
	fields = norm.NormalizeFields(ctx, fields)

	// Deterministic SET order keeps statements cacheable.
	cols := make([]Column, 0, len(fields))
	for c := range fields {
		cols = append(cols, c)
	}
	sort.Slice(cols, func(i, j int) bool { return columnPos[cols[i]] < columnPos[cols[j]] })

	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		args = append(args, bindValue(fields[c]))
		sets[i] = quoteIdent(string(c)) + " = $" + strconv.Itoa(len(args))
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s %s RETURNING *",
		quoteQualified(s.catalog.StudentTable), strings.Join(sets, ", "), byIDClause(len(args)))

	var st Student
	rows, err := s.db.Query(ctx, query, args...)
	if err == nil {
		st, err = pgx.CollectOneRow(rows, rowToStudent)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStudentNotFound
	}
	if isInvalidIDText(err) {
		// 22P02 may come from the id or from a SET value; only a bad id is a miss.
		if exists, existsErr := s.studentExists(ctx, id); existsErr == nil && !exists {
			return nil, ErrStudentNotFound
		}
	}
	if err != nil {
		return nil, fmt.Errorf("update student: %w", err)
	}
	return st, nil
}

// DeleteStudent removes the student with the given stuid.
func (s *Service) DeleteStudent(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s %s", quoteQualified(s.catalog.StudentTable), byIDClause(1))

	tag, err := s.db.Exec(ctx, query, id)
	if isInvalidIDText(err) {
		return ErrStudentNotFound
	}
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStudentNotFound
	}
	return nil
}
