// Package odata holds the pure, I/O-free pieces of the entity-store wire format:
//
//	record.go     - ordered records (field order is preserved on the wire)
//	format.go     - value to wire-text rules used by hand-built batch bodies
//	chunk.go      - splitting record lists into bounded batch chunks
//	normalize.go  - collapsing raw/formatted field pairs on read
package odata
