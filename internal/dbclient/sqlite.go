package dbclient

import (
	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	quote:       doubleQuote,
	placeholder: questionMark,
	textType:    "TEXT",
	intType:     "INTEGER",
}

// newSQLiteMirror creates a mirror writing into an external SQLite file.
// Opens in WAL mode with busy timeout for concurrent access.
func newSQLiteMirror(name, path string) (*sqlMirror, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	return newSQLMirror(name, "sqlite", dsn, sqliteDialect)
}
