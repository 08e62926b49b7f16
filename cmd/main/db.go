package main

import (
	"database/sql"
	"fmt"
	"strings"
)

// sqlitePragmas are applied to every database regardless of driver, since the
// two drivers disagree on how pragmas are passed in the DSN.
var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// openDB opens the database with the given driver and applies sqlitePragmas.
// Any query string on the path is dropped.
func openDB(driver, dataSource string) (*sql.DB, error) {
	if i := strings.IndexByte(dataSource, '?'); i >= 0 {
		dataSource = dataSource[:i]
	}
	db, err := sql.Open(driver, dataSource)
	if err != nil {
		return nil, err
	}
	// busy_timeout and foreign_keys are per connection.
	db.SetMaxOpenConns(1)
	for _, p := range sqlitePragmas {
		if _, err = db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return db, nil
}
