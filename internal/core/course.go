package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/campusops/admin/internal/config"
	"github.com/campusops/admin/internal/logging"
)

const tableExistsSQL = `SELECT EXISTS (
	SELECT 1 FROM information_schema.tables
	WHERE table_schema = $1 AND table_name = $2
)`

// courseCandidate is one prepared course lookup table.
type courseCandidate struct {
	table  config.CourseTable
	schema string
	rel    string
	// byInstitute filters on institute and description; byDescription on
	// description only.
	byInstitute   string
	byDescription string
}

func newCourseCandidate(t config.CourseTable) courseCandidate {
	schema, rel := splitQualified(t.Table)
	id := quoteIdent(t.IDColumn)
	desc := quoteIdent(t.DescriptionColumn)
	alt := quoteIdent(t.AltColumn)
	from := quoteQualified(t.Table)

	return courseCandidate{
		table:  t,
		schema: schema,
		rel:    rel,
		byInstitute: fmt.Sprintf(
			"SELECT %s::text FROM %s WHERE %s = $1 AND (LOWER(%s) = LOWER($2) OR LOWER(%s) = LOWER($2)) ORDER BY 1 LIMIT 1",
			id, from, quoteIdent(t.InstituteColumn), desc, alt),
		byDescription: fmt.Sprintf(
			"SELECT %s::text FROM %s WHERE LOWER(%s) = LOWER($1) OR LOWER(%s) = LOWER($1) ORDER BY 1 LIMIT 1",
			id, from, desc, alt),
	}
}

// CourseResolver fills a missing course id from the program description.
type CourseResolver struct {
	db         RowQuerier
	candidates []courseCandidate
}

// NewCourseResolver builds a resolver over the catalog's course tables, tried
// in catalog order. db may be nil, in which case nothing ever resolves.
func NewCourseResolver(db RowQuerier, cat config.Catalog) *CourseResolver {
	candidates := make([]courseCandidate, 0, len(cat.CourseTables))
	for _, t := range cat.CourseTables {
		candidates = append(candidates, newCourseCandidate(t))
	}
	return &CourseResolver{db: db, candidates: candidates}
}

// Resolve returns the course id of the first candidate table holding a course
// whose description or alternate name equals description case-insensitively.
// When institute is valid the match is restricted to that institute.
// Absent tables and query failures skip the candidate; no match is NULL.
func (r *CourseResolver) Resolve(ctx context.Context, institute pgtype.Text, description string) pgtype.Text {
	description = strings.TrimSpace(description)
	if r.db == nil || description == "" {
		return pgtype.Text{}
	}

	logger := logging.FromContext(ctx)
	for _, c := range r.candidates {
		exists, err := r.tableExists(ctx, c)
		if err != nil {
			logger.Debug("course table check failed", "table", c.table.Table, "error", err)
			continue
		}
		if !exists {
			continue
		}

		var id pgtype.Text
		if institute.Valid {
			err = r.db.QueryRow(ctx, c.byInstitute, institute.String, description).Scan(&id)
		} else {
			err = r.db.QueryRow(ctx, c.byDescription, description).Scan(&id)
		}
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				logger.Debug("course lookup failed", "table", c.table.Table, "error", err)
			}
			continue
		}
		if id.Valid && strings.TrimSpace(id.String) != "" {
			return ToPgText(id.String)
		}
	}

	return pgtype.Text{}
}

func (r *CourseResolver) tableExists(ctx context.Context, c courseCandidate) (bool, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, tableExistsSQL, c.schema, c.rel).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
