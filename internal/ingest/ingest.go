// Package ingest reads the association and classification tables that feed
// a clustering run.
//
// Each supported format (CSV, TSV, XLSX) has its own reader that implements
// the Reader interface. Read auto-detects the format by file extension and
// dispatches to the correct parser.
//
// Readers keep provenance: every row remembers the line (or sheet row) it
// came from so input errors can name it.
package ingest
