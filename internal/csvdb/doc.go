// Package csvdb implements the in-memory half of a flat-file record store.
//
// # Overview
//
// A table is a delimited text body: the first line is the comma-joined list
// of field names, every following non-blank line is one [Record]. The package
// is pure: it turns a table body into rows, answers a [Query] against it, or
// runs a [RowProcessor] over it and produces the complete new body. Fetching
// and publishing bodies is the job of the storage layer.
//
// # Null Convention
//
// A field absent from a record and a field holding the empty string are the
// same thing. [Eq], [NotEq], [In] and [NotIn] treat both as null, and the
// ordering predicates never match a null on either side.
//
// # Ordering
//
// [Comparator] compares two values numerically when both parse as numbers,
// otherwise with a locale collation where embedded digit runs compare by
// value, so "a2" sorts before "a10".
//
// # File Format
//
// Fields are separated by commas. A field containing a comma, a quote, a
// line break or a backslash is wrapped in double quotes with internal quotes
// doubled. The decoder also accepts backslash-escaped quotes and commas
// outside quotes, which the encoder never produces. Lines holding only spaces
// or tabs are blank.
package csvdb
