package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/CTAG07/wiki/pkg/attachments"
	"github.com/CTAG07/wiki/pkg/notifications"
	"github.com/CTAG07/wiki/pkg/wiki"
)

// initDB opens the SQLite database at path with the driver selected at build
// time. Paths without options get the driver's WAL and busy timeout settings.
func initDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(strings.SplitN(path, "?", 2)[0]); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	dataSource := path
	if !strings.Contains(path, "?") {
		dataSource += "?" + sqliteParams
	}
	db, err := sql.Open(sqliteDriver, dataSource)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", path, err)
	}
	return db, nil
}

// setupSchemas creates every table the server needs. The wiki schema goes
// first since the plugin tables reference articles.
func setupSchemas(db *sql.DB) error {
	steps := []struct {
		name  string
		setup func(*sql.DB) error
	}{
		{"wiki", wiki.SetupSchema},
		{"attachments", attachments.SetupSchema},
		{"notifications", notifications.SetupSchema},
		{"auth", setupAuthSchema},
		{"stats", setupStatsSchema},
	}
	for _, step := range steps {
		if err := step.setup(db); err != nil {
			return fmt.Errorf("failed to setup %s schema: %w", step.name, err)
		}
	}
	return nil
}
