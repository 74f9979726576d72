package templating

import (
	"bytes"
	"context"
	"database/sql"
	"html/template"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/CTAG07/wiki/pkg/plugins"
	"github.com/CTAG07/wiki/pkg/wiki"
	_ "github.com/mattn/go-sqlite3"
)

type testPlugin struct{}

func (testPlugin) Slug() string { return "shouting" }
func (testPlugin) Name() string { return "wiki.plugins.shouting" }
func (testPlugin) TemplateFuncs() template.FuncMap {
	return template.FuncMap{
		"shout":      strings.ToUpper,
		"startsWith": func(string, string) bool { return false },
	}
}
func (testPlugin) Templates() fs.FS {
	return fstest.MapFS{
		"wiki/plugins/shouting/box.html": {Data: []byte(`{{shout .word}}`)},
	}
}

type testEnv struct {
	tm       *TemplateManager
	articles *wiki.Store
	dir      string
}

// setupTestManager creates a TemplateManager backed by a fresh wiki database,
// a registry holding one plugin, and a template directory with a single file.
func setupTestManager(tb testing.TB) *testEnv {
	tb.Helper()

	dir := tb.TempDir()
	templatesPath := filepath.Join(dir, "templates")
	writeTemplate(tb, templatesPath, "custom/hello.html", `Hello {{.name}}`)

	db, err := sql.Open("sqlite3", filepath.Join(dir, "wiki.db"))
	if err != nil {
		tb.Fatalf("failed to open db: %v", err)
	}
	tb.Cleanup(func() { _ = db.Close() })
	if err = wiki.SetupSchema(db); err != nil {
		tb.Fatalf("failed to setup wiki schema: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	articles, err := wiki.NewStore(db, nil, logger)
	if err != nil {
		tb.Fatalf("failed to create wiki store: %v", err)
	}
	tb.Cleanup(articles.Close)

	registry := plugins.NewRegistry(logger)
	registry.MustRegister(testPlugin{})

	settings := wiki.DefaultSettings()
	config := DefaultConfig()
	tm, err := NewTemplateManager(logger, Services{
		Articles: articles,
		Renderer: wiki.NewRenderer(settings),
		Plugins:  registry,
		Settings: settings,
	}, &config, templatesPath)
	if err != nil {
		tb.Fatalf("NewTemplateManager() failed: %v", err)
	}
	return &testEnv{tm: tm, articles: articles, dir: templatesPath}
}

func writeTemplate(tb testing.TB, dir, name, content string) {
	tb.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		tb.Fatalf("failed to create template dir: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		tb.Fatalf("failed to write template %s: %v", name, err)
	}
}

func (e *testEnv) createArticle(tb testing.TB, title, content string) *wiki.Article {
	tb.Helper()
	a := wiki.NewArticle()
	if err := e.articles.CreateArticle(context.Background(), a, &wiki.ArticleRevision{Title: title, Content: content}); err != nil {
		tb.Fatalf("setup: CreateArticle() failed: %v", err)
	}
	return a
}

func TestNewTemplateManager(t *testing.T) {
	env := setupTestManager(t)

	names := env.tm.GetTemplateNames()
	for _, want := range []string{
		"custom/hello.html",
		"wiki/article.html",
		"wiki/includes/form.html",
		"wiki/includes/messages.html",
		"wiki/includes/render.html",
		"wiki/plugins/shouting/box.html",
	} {
		if !slices.Contains(names, want) {
			t.Errorf("expected template %q to be loaded, got %v", want, names)
		}
	}
	if !slices.IsSorted(names) {
		t.Errorf("template names should be sorted: %v", names)
	}
	if env.tm.GetTemplateDir() != env.dir {
		t.Errorf("GetTemplateDir() = %q, want %q", env.tm.GetTemplateDir(), env.dir)
	}
	if env.tm.GetConfig().SnippetMaxLetters != 300 {
		t.Errorf("expected the default config, got %+v", env.tm.GetConfig())
	}
}

func TestNewTemplateManager_NoTemplateDir(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tm, err := NewTemplateManager(logger, Services{}, nil, filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("NewTemplateManager() failed: %v", err)
	}
	if !tm.HasTemplate("wiki/includes/render.html") {
		t.Error("built-in templates should load without a template dir")
	}
}

func TestManager_Refresh(t *testing.T) {
	env := setupTestManager(t)
	tm := env.tm

	if tm.HasTemplate("custom/new.html") {
		t.Fatal("custom/new.html should not exist yet")
	}
	writeTemplate(t, env.dir, "custom/new.html", `new`)
	if err := tm.Refresh(); err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}
	if !tm.HasTemplate("custom/new.html") {
		t.Error("Refresh() did not pick up the new template")
	}

	writeTemplate(t, env.dir, "custom/broken.html", `{{if}`)
	if err := tm.Refresh(); err == nil {
		t.Error("expected Refresh() to fail on a broken template")
	}
	if !tm.HasTemplate("custom/new.html") {
		t.Error("a failed Refresh() should keep the previous template set")
	}
}

func TestManager_Override(t *testing.T) {
	env := setupTestManager(t)
	writeTemplate(t, env.dir, "wiki/includes/messages.html", `{{range .messages}}[{{.Text}}]{{end}}`)
	if err := env.tm.Refresh(); err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}

	var buf bytes.Buffer
	data := Context{"messages": []*wiki.Message{{Level: wiki.LevelInfo, Text: "saved"}}}
	if err := env.tm.ExecuteTemplateString(&buf, `{{wikiMessages .}}`, data); err != nil {
		t.Fatalf("ExecuteTemplateString() failed: %v", err)
	}
	if buf.String() != "[saved]" {
		t.Errorf("expected the on-disk include to win, got %q", buf.String())
	}
}

func TestManager_Execute(t *testing.T) {
	env := setupTestManager(t)
	tm := env.tm

	var buf bytes.Buffer
	if err := tm.Execute(&buf, "custom/hello.html", Context{"name": "<World>"}); err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if buf.String() != "Hello &lt;World&gt;" {
		t.Errorf("unexpected output: %q", buf.String())
	}

	buf.Reset()
	if err := tm.Execute(&buf, "wiki/plugins/shouting/box.html", Context{"word": "quiet"}); err != nil {
		t.Fatalf("Execute() of a plugin template failed: %v", err)
	}
	if buf.String() != "QUIET" {
		t.Errorf("unexpected plugin template output: %q", buf.String())
	}

	err := tm.Execute(&buf, "nonexistent.html", nil)
	if err == nil {
		t.Fatal("expected an error for a nonexistent template")
	}
	expectedErr := `html/template: "nonexistent.html" is undefined`
	if err.Error() != expectedErr {
		t.Errorf("expected error %q, got %q", expectedErr, err.Error())
	}

	if err = tm.Execute(&buf, "", nil); err != nil {
		t.Errorf("an empty name should be a no-op, got %v", err)
	}
}

func TestManager_ExecuteTemplateString(t *testing.T) {
	env := setupTestManager(t)

	for i := 0; i < 2; i++ {
		var buf bytes.Buffer
		err := env.tm.ExecuteTemplateString(&buf, `{{startsWith "wiki" "wi"}} {{shout "hi"}} {{include "custom/hello.html" .}}`, Context{"name": "you"})
		if err != nil {
			t.Fatalf("ExecuteTemplateString() run %d failed: %v", i, err)
		}
		if buf.String() != "true HI Hello you" {
			t.Errorf("run %d: unexpected output %q", i, buf.String())
		}
	}

	var buf bytes.Buffer
	if err := env.tm.ExecuteTemplateString(&buf, `{{noSuchFunc}}`, nil); err == nil {
		t.Error("expected a parse error for an unknown function")
	}
}

func TestManager_Pages(t *testing.T) {
	env := setupTestManager(t)
	a := env.createArticle(t, "Main Page", "Welcome to the *wiki*.")

	req := newRequest("/wiki/1/")
	var buf bytes.Buffer
	data := Context{
		"request":  req,
		"user":     (*wiki.User)(nil),
		"article":  a,
		"title":    a.String(),
		"tabs":     []plugins.Tab{{Slug: "shouting", Title: "Shout", IconClass: "fa fa-bullhorn"}},
		"sidebars": []plugins.Sidebar{{Slug: "shouting", Headline: "Box", Template: "wiki/plugins/shouting/box.html"}},
		"word":     "loud",
	}
	if err := env.tm.Execute(&buf, "wiki/article.html", data); err != nil {
		t.Fatalf("Execute(wiki/article.html) failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"<title>Main Page - Wiki</title>",
		"Welcome to the <em>wiki</em>.",
		"/wiki/1/plugin/shouting/",
		"LOUD",
		`href="/_accounts/login/?next=/wiki/1/"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("article page is missing %q:\n%s", want, out)
		}
	}
}
