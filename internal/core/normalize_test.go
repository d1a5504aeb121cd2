package core

import (
	"context"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/campusops/admin/internal/config"
)

func text(s string) pgtype.Text { return pgtype.Text{String: s, Valid: true} }

func newTestNormalizer(db *fakeDB, cache bool) *Normalizer {
	cat := config.DefaultCatalog()
	return NewNormalizer(NewInstituteResolver(db, cat), NewCourseResolver(db, cat), cache)
}

func TestNormalizer_Normalize(t *testing.T) {
	db := &fakeDB{onQueryRow: courseCatalog{
		tables:  map[string]bool{"public.master_course": true},
		courses: map[string]string{"CID_001|master_course|b.tech cse": "C-10"},
	}.handle}
	n := newTestNormalizer(db, false)

	got := n.Normalize(context.Background(), RawRow{
		"stuname":            "  Asha Rao ",
		"stu_rollnumber":     "21CS001",
		"stumob1":            "   ",
		"stu_inst_id":        "svist",
		"programdescription": "B.Tech CSE",
		"Blood Group":        "O+",
	})

	var want StudentRow
	want.Set(ColName, text("Asha Rao"))
	want.Set(ColRollNumber, text("21CS001"))
	want.Set(ColInstituteID, text("CID_001"))
	want.Set(ColProgramDescription, text("B.Tech CSE"))
	want.Set(ColCourseID, text("C-10"))

	if got != want {
		for i, c := range CanonicalColumns {
			if got[i] != want[i] {
				t.Errorf("%s = %+v, want %+v", c, got[i], want[i])
			}
		}
	}
}

func TestNormalizer_CourseKeptWhenPresent(t *testing.T) {
	db := &fakeDB{}
	n := newTestNormalizer(db, false)

	got := n.Normalize(context.Background(), RawRow{
		"stu_course_id":      "C-99",
		"programdescription": "MBA",
	})
	if c := got.Get(ColCourseID); c != text("C-99") {
		t.Errorf("stu_course_id = %+v, want C-99", c)
	}
	if n := db.queryRowCount(); n != 0 {
		t.Errorf("ran %d lookups, want 0", n)
	}
}

func TestNormalizer_UnresolvedCourseStaysNull(t *testing.T) {
	db := &fakeDB{onQueryRow: courseCatalog{tables: map[string]bool{}}.handle}
	n := newTestNormalizer(db, false)

	got := n.Normalize(context.Background(), RawRow{"programdescription": "Unknown Program"})
	if c := got.Get(ColCourseID); c.Valid {
		t.Errorf("stu_course_id = %+v, want NULL", c)
	}
	if d := got.Get(ColProgramDescription); d != text("Unknown Program") {
		t.Errorf("programdescription = %+v, want kept", d)
	}
}

func TestNormalizer_CachesLookups(t *testing.T) {
	directoryHits := 0
	handler := func(sql string, args []any) pgx.Row {
		if strings.Contains(sql, "master_college") {
			directoryHits++
			return rowErr(pgx.ErrNoRows)
		}
		return courseCatalog{tables: map[string]bool{}}.handle(sql, args)
	}

	for _, tt := range []struct {
		cache    bool
		wantHits int
	}{
		{cache: true, wantHits: 1},
		{cache: false, wantHits: 3},
	} {
		directoryHits = 0
		n := newTestNormalizer(&fakeDB{onQueryRow: handler}, tt.cache)

		for _, name := range []string{"Unknown College", "unknown college", " UNKNOWN COLLEGE"} {
			got := n.Normalize(context.Background(), RawRow{"stu_inst_id": name})
			// Passthrough keeps each row's own spelling even when cached.
			if want := text(strings.TrimSpace(name)); got.Get(ColInstituteID) != want {
				t.Errorf("cache=%v: stu_inst_id = %+v, want %+v", tt.cache, got.Get(ColInstituteID), want)
			}
		}
		if directoryHits != tt.wantHits {
			t.Errorf("cache=%v: directory queried %d times, want %d", tt.cache, directoryHits, tt.wantHits)
		}
	}
}

func TestNormalizer_NormalizeFields(t *testing.T) {
	db := &fakeDB{onQueryRow: courseCatalog{
		tables:  map[string]bool{"public.master_course": true},
		courses: map[string]string{"CID_002|master_course|mba": "C-3"},
	}.handle}
	n := newTestNormalizer(db, false)

	got := n.NormalizeFields(context.Background(), map[Column]pgtype.Text{
		ColInstituteID:        text("cid-2"),
		ColProgramDescription: text(" MBA "),
		ColMobile:             text("  "),
		ColCaste:              {},
	})

	want := map[Column]pgtype.Text{
		ColInstituteID:        text("CID_002"),
		ColProgramDescription: text("MBA"),
		ColCourseID:           text("C-3"),
		ColMobile:             {},
		ColCaste:              {},
	}
	if len(got) != len(want) {
		t.Fatalf("NormalizeFields() = %v, want %v", got, want)
	}
	for c, v := range want {
		if got[c] != v {
			t.Errorf("%s = %+v, want %+v", c, got[c], v)
		}
	}
}

func TestNormalizer_NormalizeFieldsWithoutDescription(t *testing.T) {
	n := newTestNormalizer(&fakeDB{}, false)

	got := n.NormalizeFields(context.Background(), map[Column]pgtype.Text{ColName: text("Ravi")})
	if _, ok := got[ColCourseID]; ok {
		t.Errorf("NormalizeFields() added stu_course_id without a description: %v", got)
	}
}
