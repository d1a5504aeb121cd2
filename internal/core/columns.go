package core

import "github.com/jackc/pgx/v5/pgtype"

// Column is one of the accepted student table columns.
type Column string

const (
	ColStudentID            Column = "stuid"
	ColEnrollmentNumber     Column = "stu_enrollmentnumber"
	ColRollNumber           Column = "stu_rollnumber"
	ColRegistrationNumber   Column = "stu_regn_number"
	ColName                 Column = "stuname"
	ColMobile               Column = "stumob1"
	ColCaste                Column = "stucaste"
	ColGender               Column = "stugender"
	ColDateOfBirth          Column = "studob"
	ColAdmissionDate        Column = "stuadmissiondt"
	ColCourseID             Column = "stu_course_id"
	ColParentName           Column = "stuparentname"
	ColParentMobile         Column = "stuprentmob1"
	ColInstituteID          Column = "stu_inst_id"
	ColProgramDescription   Column = "programdescription"
	ColMotherName           Column = "stu_mother_name"
	ColAdmissionOfficerName Column = "admission_officer_name"
	ColAcademicYear         Column = "academic_year"
	ColQuota                Column = "quta"
)

// CanonicalColumns is the ordered set of columns written by an import.
// Statement column order and parameter order both follow this slice.
var CanonicalColumns = [ColumnCount]Column{
	ColStudentID,
	ColEnrollmentNumber,
	ColRollNumber,
	ColRegistrationNumber,
	ColName,
	ColMobile,
	ColCaste,
	ColGender,
	ColDateOfBirth,
	ColAdmissionDate,
	ColCourseID,
	ColParentName,
	ColParentMobile,
	ColInstituteID,
	ColProgramDescription,
	ColMotherName,
	ColAdmissionOfficerName,
	ColAcademicYear,
	ColQuota,
}

// ColumnCount is the number of canonical columns.
const ColumnCount = 19

var columnPos = func() map[Column]int {
	m := make(map[Column]int, ColumnCount)
	for i, c := range CanonicalColumns {
		m[c] = i
	}
	return m
}()

// LookupColumn reports whether name is exactly a canonical column.
func LookupColumn(name string) (Column, bool) {
	c := Column(name)
	_, ok := columnPos[c]
	return c, ok
}

// StudentRow is a normalized row, positional over CanonicalColumns.
// An invalid pgtype.Text is written as NULL.
type StudentRow [ColumnCount]pgtype.Text

// Get returns the value stored for c.
func (r *StudentRow) Get(c Column) pgtype.Text {
	return r[columnPos[c]]
}

// Set stores v for c.
func (r *StudentRow) Set(c Column, v pgtype.Text) {
	r[columnPos[c]] = v
}

// HasID reports whether the row carries an explicit stuid.
func (r *StudentRow) HasID() bool {
	return r.Get(ColStudentID).Valid
}

// RawRow maps a canonicalized header to its raw cell value.
type RawRow map[string]string
