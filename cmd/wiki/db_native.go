//go:build !cgo_sqlite

package main

import _ "modernc.org/sqlite"

const (
	sqliteDriver = "sqlite"
	// sqliteParams is appended to database paths that carry no options.
	sqliteParams = "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
)
