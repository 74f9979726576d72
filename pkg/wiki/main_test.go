package wiki

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestStore creates a fresh on-disk SQLite database and a Store over it.
func setupTestStore(t *testing.T) (*sql.DB, *Store) {
	t.Helper()
	dbFile := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", dbFile+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = SetupSchema(db); err != nil {
		t.Fatalf("failed to set up schema: %v", err)
	}

	s, err := NewStore(db, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(s.Close)
	return db, s
}

// createTestArticle stores an article with a single revision.
func createTestArticle(t *testing.T, s *Store, title, content string) *Article {
	t.Helper()
	a := NewArticle()
	if err := s.CreateArticle(context.Background(), a, &ArticleRevision{Title: title, Content: content}); err != nil {
		t.Fatalf("setup: CreateArticle() failed: %v", err)
	}
	return a
}
