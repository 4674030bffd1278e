//go:build !sqlite_fts5

// The event store's text index is an FTS5 virtual table. The sqlite3
// driver only compiles FTS5 support in when the sqlite_fts5 build tag
// is set, so every build and test run needs it:
//
//	go build -tags sqlite_fts5 ./...
//	go test -tags sqlite_fts5 ./...
//
// Without the tag the schema would fail at Open with "no such module:
// fts5"; this file turns that into a build error instead.

package store

var _ = mustBuildWithTagSqliteFts5 // undefined unless -tags sqlite_fts5 is set
