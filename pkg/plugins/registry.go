package plugins

import (
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"sync"

	"github.com/CTAG07/wiki/pkg/wiki"
)

var (
	// ErrDuplicateSlug is returned when a plugin's slug is already registered.
	ErrDuplicateSlug = errors.New("plugin slug already registered")
	// ErrEmptySlug is returned for plugins without a slug.
	ErrEmptySlug = errors.New("plugin slug can't be empty")
)

// Registry holds the installed plugins in registration order.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	order   []string
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		plugins: make(map[string]Plugin),
		logger:  logger,
	}
}

// Register installs p.
func (r *Registry) Register(p Plugin) error {
	slug := p.Slug()
	if slug == "" {
		return ErrEmptySlug
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plugins[slug]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSlug, slug)
	}
	r.plugins[slug] = p
	r.order = append(r.order, slug)
	r.logger.Info("Plugin registered", "slug", slug, "name", p.Name())
	return nil
}

// MustRegister works like Register, but panics if there's an error.
func (r *Registry) MustRegister(p Plugin) {
	if err := r.Register(p); err != nil {
		panic(err)
	}
}

// Plugins returns a copy of the slug to plugin map.
func (r *Registry) Plugins() map[string]Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Plugin, len(r.plugins))
	for slug, p := range r.plugins {
		out[slug] = p
	}
	return out
}

// Get returns the plugin registered under slug.
func (r *Registry) Get(slug string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[slug]
	return p, ok
}

// Enabled reports whether a plugin is installed whose name or slug equals name.
func (r *Registry) Enabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.plugins[name]; ok {
		return true
	}
	for _, p := range r.plugins {
		if p.Name() == name {
			return true
		}
	}
	return false
}

// ordered returns the plugins in registration order.
func (r *Registry) ordered() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Plugin, 0, len(r.order))
	for _, slug := range r.order {
		out = append(out, r.plugins[slug])
	}
	return out
}

// ArticleTabs collects the tabs of every plugin that has one.
func (r *Registry) ArticleTabs() []Tab {
	var tabs []Tab
	for _, p := range r.ordered() {
		if t, ok := p.(ArticleTabber); ok {
			tab := t.ArticleTab()
			tab.Slug = p.Slug()
			tabs = append(tabs, tab)
		}
	}
	return tabs
}

func (r *Registry) Sidebars() []Sidebar {
	var boxes []Sidebar
	for _, p := range r.ordered() {
		if s, ok := p.(Sidebarer); ok {
			box := s.Sidebar()
			box.Slug = p.Slug()
			boxes = append(boxes, box)
		}
	}
	return boxes
}

func (r *Registry) Notifications() []Notification {
	var specs []Notification
	for _, p := range r.ordered() {
		if n, ok := p.(Notifier); ok {
			specs = append(specs, n.Notifications()...)
		}
	}
	return specs
}

func (r *Registry) MarkdownExtensions() []wiki.MarkdownExtension {
	var exts []wiki.MarkdownExtension
	for _, p := range r.ordered() {
		if m, ok := p.(MarkdownExtender); ok {
			exts = append(exts, m.MarkdownExtensions()...)
		}
	}
	return exts
}

// TemplateFuncs merges the template functions of all plugins. When two plugins
// define the same name the one registered later wins, and a warning is logged.
func (r *Registry) TemplateFuncs() template.FuncMap {
	funcs := template.FuncMap{}
	for _, p := range r.ordered() {
		f, ok := p.(FuncMapper)
		if !ok {
			continue
		}
		for name, fn := range f.TemplateFuncs() {
			if _, exists := funcs[name]; exists {
				r.logger.Warn("Template function redefined by plugin", "func", name, "slug", p.Slug())
			}
			funcs[name] = fn
		}
	}
	return funcs
}

// Templates returns the template file systems shipped by plugins.
func (r *Registry) Templates() []fs.FS {
	var out []fs.FS
	for _, p := range r.ordered() {
		if t, ok := p.(Templater); ok {
			out = append(out, t.Templates())
		}
	}
	return out
}

// ArticleViewer returns the article-scoped handler of the plugin with the given slug.
func (r *Registry) ArticleViewer(slug string) (ArticleViewer, bool) {
	p, ok := r.Get(slug)
	if !ok {
		return nil, false
	}
	v, ok := p.(ArticleViewer)
	return v, ok
}
