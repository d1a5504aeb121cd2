package core

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

type courseKey struct {
	institute   string
	hasInst     bool
	description string
}

// Normalizer turns mapped rows into StudentRows. A Normalizer belongs to one
// import and is not safe for concurrent use. With caching enabled, each
// distinct institute token and (institute, description) pair is resolved once.
type Normalizer struct {
	institutes *InstituteResolver
	courses    *CourseResolver

	cache         bool
	instituteMemo map[string]Resolution
	courseMemo    map[courseKey]pgtype.Text
}

// NewNormalizer returns a Normalizer backed by the given resolvers.
func NewNormalizer(institutes *InstituteResolver, courses *CourseResolver, cache bool) *Normalizer {
	n := &Normalizer{institutes: institutes, courses: courses, cache: cache}
	if cache {
		n.instituteMemo = make(map[string]Resolution)
		n.courseMemo = make(map[courseKey]pgtype.Text)
	}
	return n
}

// Normalize projects raw onto the canonical columns, trimming every value and
// storing empty cells as NULL, then resolves the institute and fills a
// missing course id. It never rejects a row.
func (n *Normalizer) Normalize(ctx context.Context, raw RawRow) StudentRow {
	var row StudentRow
	for i, c := range CanonicalColumns {
		row[i] = ToPgText(raw[string(c)])
	}

	if inst := row.Get(ColInstituteID); inst.Valid {
		row.Set(ColInstituteID, n.institute(ctx, inst.String).Text())
	}

	if !row.Get(ColCourseID).Valid {
		if desc := row.Get(ColProgramDescription); desc.Valid {
			if id := n.course(ctx, row.Get(ColInstituteID), desc.String); id.Valid {
				row.Set(ColCourseID, id)
			}
		}
	}

	return row
}

// NormalizeFields applies the same rules to a partial update. Only columns
// present in fields are returned, plus stu_course_id when it was filled
// from the program description.
func (n *Normalizer) NormalizeFields(ctx context.Context, fields map[Column]pgtype.Text) map[Column]pgtype.Text {
	out := make(map[Column]pgtype.Text, len(fields)+1)
	for c, v := range fields {
		if v.Valid {
			out[c] = ToPgText(v.String)
		} else {
			out[c] = pgtype.Text{}
		}
	}

	if inst, ok := out[ColInstituteID]; ok && inst.Valid {
		out[ColInstituteID] = n.institute(ctx, inst.String).Text()
	}

	if id := out[ColCourseID]; !id.Valid {
		if desc := out[ColProgramDescription]; desc.Valid {
			if id := n.course(ctx, out[ColInstituteID], desc.String); id.Valid {
				out[ColCourseID] = id
			}
		}
	}

	return out
}

func (n *Normalizer) institute(ctx context.Context, token string) Resolution {
	if !n.cache {
		return n.institutes.Resolve(ctx, token)
	}
	key := strings.ToLower(strings.TrimSpace(token))
	if r, ok := n.instituteMemo[key]; ok {
		// Passthrough keeps the spelling of the row being normalized.
		if r.Source == SourcePassthrough {
			r.Value = strings.TrimSpace(token)
		}
		return r
	}
	r := n.institutes.Resolve(ctx, token)
	n.instituteMemo[key] = r
	return r
}

func (n *Normalizer) course(ctx context.Context, institute pgtype.Text, description string) pgtype.Text {
	if !n.cache {
		return n.courses.Resolve(ctx, institute, description)
	}
	key := courseKey{
		institute:   institute.String,
		hasInst:     institute.Valid,
		description: strings.ToLower(strings.TrimSpace(description)),
	}
	if id, ok := n.courseMemo[key]; ok {
		return id
	}
	id := n.courses.Resolve(ctx, institute, description)
	n.courseMemo[key] = id
	return id
}
