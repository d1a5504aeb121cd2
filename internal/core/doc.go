// Package core provides the business logic for bulk student imports.
//
// This package contains all domain logic independent of any transport layer.
// It is used by the HTTP handlers in internal/web and by the importctl CLI
// without modification.
//
// # Pipeline
//
// An import moves through a fixed sequence of phases:
//
//  1. [ParseCSV] decodes the upload (BOM stripped, invalid UTF-8 replaced)
//     and returns one [RawRow] per non-empty record.
//  2. [MapRows] canonicalizes every header with [CanonicalizeHeader] and
//     projects each record onto the 19 [CanonicalColumns], reporting the
//     accepted columns the upload did not carry.
//  3. A [Normalizer] trims values, coerces empty strings to NULL, and
//     resolves institute and course identifiers.
//  4. The batch writer opens a single transaction and writes the rows in
//     chunks. Any chunk failure rolls back the whole import.
//
// # Resolution
//
// Institute and course lookups never fail an import. A miss is reported as a
// [Resolution] whose Source is [SourcePassthrough] (institutes) or an invalid
// value (courses), and the row is written with what the upload supplied.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages using [MapError].
// Each category has a code for support reference:
//
//   - FILE001-FILE004: Upload payload errors (missing, malformed, empty)
//   - IMP001-IMP003: Import lifecycle errors (busy, timeout, cancelled)
//   - DB001-DB005: Storage errors (constraints, connectivity)
//   - STU001-STU002: Student record errors (not found, nothing to update)
//   - REQ001: Undecodable JSON request body
package core
