// Package document converts typed domain records to and from the generic
// string-keyed documents exchanged with the store.
//
// Instead of runtime reflection, each record type registers an explicit field
// table built once at startup: domain name, optional document-name override,
// identity flag, and value kind, together with typed accessors. The single
// identity field is always stored under the reserved "_id" key and gets a
// generated UUID when encoded without one.
//
// Value coercion is deterministic and applied identically in both directions.
// Numbers convert to numbers by value, to strings via canonical text;
// booleans accept case-insensitive "true"/"false" and zero/non-zero numbers;
// decimals persist as float64 and timestamps as epoch milliseconds. A value
// no rule can handle aborts the whole encode or decode with ErrMapping, so
// partial records are never produced. Fields absent from a document simply
// keep their zero value.
package document
