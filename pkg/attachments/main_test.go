package attachments

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/CTAG07/wiki/pkg/wiki"
	_ "github.com/mattn/go-sqlite3"
)

type testEnv struct {
	db       *sql.DB
	articles *wiki.Store
	store    *Store
	article  *wiki.Article
	logger   *slog.Logger
}

// setupTestEnv creates a database with the wiki and attachment schemas, an
// article to attach files to, and a store writing below a temp media root.
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	db, err := sql.Open("sqlite3", filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = wiki.SetupSchema(db); err != nil {
		t.Fatalf("failed to set up wiki schema: %v", err)
	}
	if err = SetupSchema(db); err != nil {
		t.Fatalf("failed to set up attachments schema: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	articles, err := wiki.NewStore(db, nil, logger)
	if err != nil {
		t.Fatalf("wiki.NewStore() error = %v", err)
	}
	t.Cleanup(articles.Close)

	cfg := DefaultConfig()
	cfg.MediaRoot = filepath.Join(dir, "media")
	store, err := NewStore(db, cfg, articles, logger)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(store.Close)

	a := wiki.NewArticle()
	if err = articles.CreateArticle(context.Background(), a, &wiki.ArticleRevision{Title: "Docs", Content: "text"}); err != nil {
		t.Fatalf("setup: CreateArticle() failed: %v", err)
	}
	return &testEnv{db: db, articles: articles, store: store, article: a, logger: logger}
}

func (e *testEnv) upload(t *testing.T, filename, body string) *Attachment {
	t.Helper()
	at, err := e.store.Create(context.Background(), e.article, Upload{
		Filename: filename,
		Body:     strings.NewReader(body),
		User:     &wiki.User{ID: 1, Username: "alice"},
	})
	if err != nil {
		t.Fatalf("setup: Create(%q) failed: %v", filename, err)
	}
	return at
}

type recordingEmitter struct {
	events []*AttachmentRevision
}

func (r *recordingEmitter) Emit(_ context.Context, model string, obj any, created bool) (int, error) {
	if model == RevisionContentType && created {
		r.events = append(r.events, obj.(*AttachmentRevision))
	}
	return 0, nil
}
