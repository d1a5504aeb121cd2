package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog names the tables the import pipeline reads and writes.
// The defaults match the production schema; a YAML file named by
// CATALOG_FILE may override any part of it.
type Catalog struct {
	// StudentTable is the schema-qualified target of imports and CRUD.
	StudentTable string `yaml:"student_table"`

	// IDSequence backs the numeric next-id strategy.
	IDSequence string `yaml:"id_sequence"`

	// OrderColumn orders the student list (newest first).
	OrderColumn string `yaml:"order_column"`

	// Directory is the institute directory consulted for names that are
	// neither a CID code nor a known institute.
	Directory InstituteDirectory `yaml:"institute_directory"`

	// KnownInstitutes maps institute display names to codes. Matching is
	// case-insensitive and never touches the database.
	KnownInstitutes map[string]string `yaml:"known_institutes"`

	// CourseTables are tried in order to fill a missing course id.
	CourseTables []CourseTable `yaml:"course_tables"`
}

// InstituteDirectory describes the institute name-to-code table.
type InstituteDirectory struct {
	Table      string `yaml:"table"`
	CodeColumn string `yaml:"code_column"`
	NameColumn string `yaml:"name_column"`
}

// CourseTable describes one course lookup candidate.
type CourseTable struct {
	Table             string `yaml:"table"`
	IDColumn          string `yaml:"id_column"`
	InstituteColumn   string `yaml:"institute_column"`
	DescriptionColumn string `yaml:"description_column"`
	AltColumn         string `yaml:"alt_column"`
}

// DefaultCatalog returns the built-in table catalog.
func DefaultCatalog() Catalog {
	return Catalog{
		StudentTable: "public.student_master",
		IDSequence:   "public.student_id_seq",
		OrderColumn:  "createdat",
		Directory: InstituteDirectory{
			Table:      "public.master_college",
			CodeColumn: "inst_id",
			NameColumn: "inst_name",
		},
		KnownInstitutes: map[string]string{
			"SVIST": "CID_001",
			"SRST":  "CID_002",
			"SVIMS": "CID_003",
		},
		CourseTables: []CourseTable{
			{
				Table:             "public.master_course",
				IDColumn:          "course_id",
				InstituteColumn:   "inst_id",
				DescriptionColumn: "program_description",
				AltColumn:         "course_name",
			},
			{
				Table:             "public.subject_course",
				IDColumn:          "course_id",
				InstituteColumn:   "inst_id",
				DescriptionColumn: "program_description",
				AltColumn:         "course_title",
			},
		},
	}
}

// LoadCatalog returns DefaultCatalog overlaid with the YAML file at path.
// An empty path returns the defaults.
func LoadCatalog(path string) (Catalog, error) {
	cat := DefaultCatalog()
	if path == "" {
		return cat, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog overlays YAML data onto DefaultCatalog. Keys absent from the
// document keep their default; a present list or map replaces the default
// wholesale.
func ParseCatalog(data []byte) (Catalog, error) {
	cat := DefaultCatalog()
	defaults := cat
	cat.KnownInstitutes = nil
	cat.CourseTables = nil

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cat); err != nil && !errors.Is(err, io.EOF) {
		return Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}
	if cat.KnownInstitutes == nil {
		cat.KnownInstitutes = defaults.KnownInstitutes
	}
	if cat.CourseTables == nil {
		cat.CourseTables = defaults.CourseTables
	}

	if err := cat.Validate(); err != nil {
		return Catalog{}, err
	}
	return cat, nil
}

// Validate reports every missing table or column name.
func (c Catalog) Validate() error {
	var errs []string
	need := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, field+" is required")
		}
	}

	need("student_table", c.StudentTable)
	need("id_sequence", c.IDSequence)
	need("order_column", c.OrderColumn)
	need("institute_directory.table", c.Directory.Table)
	need("institute_directory.code_column", c.Directory.CodeColumn)
	need("institute_directory.name_column", c.Directory.NameColumn)
	for i, t := range c.CourseTables {
		prefix := fmt.Sprintf("course_tables[%d].", i)
		need(prefix+"table", t.Table)
		need(prefix+"id_column", t.IDColumn)
		need(prefix+"institute_column", t.InstituteColumn)
		need(prefix+"description_column", t.DescriptionColumn)
		need(prefix+"alt_column", t.AltColumn)
	}
	for name, code := range c.KnownInstitutes {
		need("known_institutes["+name+"]", code)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid catalog:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
