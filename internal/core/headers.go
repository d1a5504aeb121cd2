package core

import (
	"strings"
	"unicode"
)

// headerAliases lists the human-friendly spellings accepted for each column.
// Spellings are loosened before lookup, so "Roll No", "roll_no" and "ROLL-NO"
// all share the single entry "rollno".
var headerAliases = map[Column][]string{
	ColStudentID:            {"studentid", "id"},
	ColEnrollmentNumber:     {"enrollment", "enrolment", "enrollmentno", "enrollmentnumber", "enrolmentno", "enrolmentnumber"},
	ColRollNumber:           {"roll", "rollno", "rollnumber"},
	ColRegistrationNumber:   {"registrationno", "regno", "regnno"},
	ColName:                 {"name", "studentname"},
	ColMobile:               {"phone", "phonenumber", "mobileno", "mobile", "contact"},
	ColCaste:                {"caste", "category", "caste/category"},
	ColGender:               {"gender"},
	ColDateOfBirth:          {"dob", "dateofbirth"},
	ColAdmissionDate:        {"admissiondate", "dateofadmission"},
	ColCourseID:             {"course", "courseid"},
	ColParentName:           {"fathername", "parentname", "guardianname", "father's name"},
	ColMotherName:           {"mothername", "mother's name"},
	ColParentMobile:         {"parentphone", "guardianphone", "parentmobile"},
	ColInstituteID:          {"instituteid", "instid", "collegeid"},
	ColAdmissionOfficerName: {"admissionofficer", "officername"},
	ColAcademicYear:         {"academicyear", "year"},
	ColQuota:                {"quota"},
	ColProgramDescription:   {"program", "programdesc", "program description", "course description"},
}

// aliasIndex maps a loosened header to its column. Built once, never mutated.
var aliasIndex = buildAliasIndex()

func buildAliasIndex() map[string]Column {
	idx := make(map[string]Column, 96)
	for _, c := range CanonicalColumns {
		idx[LoosenKey(string(c))] = c
	}
	for c, aliases := range headerAliases {
		for _, a := range aliases {
			idx[LoosenKey(a)] = c
		}
	}
	return idx
}

// isLooseSeparator reports whether r is dropped by LoosenKey.
func isLooseSeparator(r rune) bool {
	if unicode.IsSpace(r) {
		return true
	}
	switch r {
	case '_', '-', ':', '/', '(', ')', '.':
		return true
	}
	return false
}

// LoosenKey lower-cases s and removes whitespace and the punctuation
// _ - : / ( ) . so that cosmetic variants of a header compare equal.
func LoosenKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		if isLooseSeparator(r) {
			return -1
		}
		return r
	}, s)
}

// CanonicalizeHeader returns the canonical column name for header, or header
// unchanged when no alias matches.
func CanonicalizeHeader(header string) string {
	if c, ok := aliasIndex[LoosenKey(header)]; ok {
		return string(c)
	}
	return header
}
