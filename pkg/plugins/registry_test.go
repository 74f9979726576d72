package plugins

import (
	"context"
	"errors"
	"html/template"
	"io"
	"io/fs"
	"log/slog"
	"testing"
	"testing/fstest"

	"github.com/CTAG07/wiki/pkg/wiki"
)

type bare struct{ slug, name string }

func (b bare) Slug() string { return b.slug }
func (b bare) Name() string { return b.name }

type full struct{ bare }

func (full) ArticleTab() Tab { return Tab{Title: "Full", IconClass: "fa fa-star"} }
func (full) Sidebar() Sidebar {
	return Sidebar{Headline: "Full", Template: "wiki/plugins/full/sidebar.html"}
}
func (full) Notifications() []Notification {
	return []Notification{{Model: "full.thing", Key: "article_edit"}}
}
func (full) MarkdownExtensions() []wiki.MarkdownExtension { return []wiki.MarkdownExtension{noopExt{}} }
func (full) TemplateFuncs() template.FuncMap {
	return template.FuncMap{"fullFunc": func() string { return "full" }}
}
func (full) Templates() fs.FS { return fstest.MapFS{} }

type noopExt struct{}

func (noopExt) Preprocess(_ context.Context, _ *wiki.Article, text string) string { return text }

func newTestRegistry() *Registry {
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegister(t *testing.T) {
	r := newTestRegistry()
	if err := r.Register(bare{"links", "wiki.plugins.links"}); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	err := r.Register(bare{"links", "other.links"})
	if !errors.Is(err, ErrDuplicateSlug) {
		t.Errorf("expected ErrDuplicateSlug, got %v", err)
	}
	if err = r.Register(bare{"", "nameless"}); !errors.Is(err, ErrEmptySlug) {
		t.Errorf("expected ErrEmptySlug, got %v", err)
	}

	if p, ok := r.Get("links"); !ok || p.Name() != "wiki.plugins.links" {
		t.Errorf("Get() returned %v, %v", p, ok)
	}

	all := r.Plugins()
	delete(all, "links")
	if _, ok := r.Get("links"); !ok {
		t.Error("Plugins() must return a copy")
	}
}

func TestEnabled(t *testing.T) {
	r := newTestRegistry()
	r.MustRegister(bare{"attachments", "wiki.plugins.attachments"})

	for _, name := range []string{"attachments", "wiki.plugins.attachments"} {
		if !r.Enabled(name) {
			t.Errorf("Enabled(%q) = false", name)
		}
	}
	if r.Enabled("wiki.plugins.images") {
		t.Error("Enabled() reported a plugin that is not installed")
	}
}

func TestCapabilities(t *testing.T) {
	r := newTestRegistry()
	r.MustRegister(bare{"plain", "plain"})
	r.MustRegister(full{bare{"full", "wiki.plugins.full"}})

	tabs := r.ArticleTabs()
	if len(tabs) != 1 || tabs[0].Slug != "full" || tabs[0].Title != "Full" {
		t.Errorf("unexpected tabs: %+v", tabs)
	}
	if boxes := r.Sidebars(); len(boxes) != 1 || boxes[0].Slug != "full" {
		t.Errorf("unexpected sidebars: %+v", boxes)
	}
	if specs := r.Notifications(); len(specs) != 1 || specs[0].Model != "full.thing" {
		t.Errorf("unexpected notification specs: %+v", specs)
	}
	if exts := r.MarkdownExtensions(); len(exts) != 1 {
		t.Errorf("expected one markdown extension, got %d", len(exts))
	}
	if _, ok := r.TemplateFuncs()["fullFunc"]; !ok {
		t.Error("plugin template func missing")
	}
	if fss := r.Templates(); len(fss) != 1 {
		t.Errorf("expected one template fs, got %d", len(fss))
	}
	if _, ok := r.ArticleViewer("full"); ok {
		t.Error("plugin without ServeArticle reported as viewer")
	}
}
