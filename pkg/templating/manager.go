package templating

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/CTAG07/wiki/pkg/plugins"
	"github.com/CTAG07/wiki/pkg/wiki"
)

//go:embed templates
var builtinFiles embed.FS

// Context is the data a wiki page executes with. Helpers that take the
// context read the request, user and messages from it and may add keys to it.
type Context = map[string]any

// ArticleLookup resolves the article associated with an arbitrary object.
// *wiki.Store implements it.
type ArticleLookup interface {
	ArticleForObject(ctx context.Context, obj wiki.Model) (*wiki.Article, error)
}

// Services are the wiki components the template functions reach into.
type Services struct {
	Articles ArticleLookup
	Renderer *wiki.Renderer
	Plugins  *plugins.Registry
	Settings *wiki.Settings
}

type objectKey struct {
	contentType string
	pk          int64
}

// TemplateManager is the central controller for the templating engine.
// It owns the parsed template set, the function map and the object cache used
// by articleForObject. Templates come from three sources, parsed in order so
// that later ones override earlier ones: the built-in wiki templates, the
// templates shipped by plugins, and the template directory on disk.
// All methods are concurrent-safe.
type TemplateManager struct {
	logger         *slog.Logger
	config         *TemplateConfig
	services       Services
	templates      *template.Template
	cleanTemplates *template.Template
	templateNames  []string
	funcMap        template.FuncMap
	templateDir    string
	mu             sync.RWMutex

	cacheMu     sync.Mutex
	objectCache map[objectKey]*wiki.Article
}

// NewTemplateManager creates, initializes, and returns a new TemplateManager.
// templateDir may be empty or missing, in which case only the built-in and
// plugin templates are available. Missing Settings, Renderer and Plugins are
// replaced by defaults. It performs an initial Refresh.
func NewTemplateManager(logger *slog.Logger, services Services, config *TemplateConfig, templateDir string) (*TemplateManager, error) {
	if services.Settings == nil {
		services.Settings = wiki.DefaultSettings()
	}
	if services.Renderer == nil {
		services.Renderer = wiki.NewRenderer(services.Settings)
	}
	if services.Plugins == nil {
		services.Plugins = plugins.NewRegistry(logger)
	}
	if config == nil {
		defaults := DefaultConfig()
		config = &defaults
	}

	tm := &TemplateManager{
		logger:      logger,
		config:      config,
		services:    services,
		templateDir: templateDir,
		objectCache: make(map[objectKey]*wiki.Article),
	}

	if err := tm.Refresh(); err != nil {
		return nil, err
	}

	logger.Info("Template manager initialized")
	return tm, nil
}

func (tm *TemplateManager) makeFuncMap() template.FuncMap {
	funcs := template.FuncMap{}

	// Plugin functions go in first so a plugin can never shadow a wiki helper.
	for name, fn := range tm.services.Plugins.TemplateFuncs() {
		funcs[name] = fn
	}

	builtins := template.FuncMap{
		// Article & rendering (from funcs_wiki.go)
		"articleForObject": tm.articleForObject,
		"wikiRender":       tm.wikiRender,
		"wikiForm":         tm.wikiForm,
		"wikiMessages":     tm.wikiMessages,
		"include":          tm.include,

		// Search (from funcs_snippet.go)
		"contentSnippet": tm.contentSnippet,

		// Permissions (from funcs_permissions.go)
		"canRead":     canRead,
		"canWrite":    canWrite,
		"canDelete":   canDelete,
		"canModerate": canModerate,
		"isLocked":    isLocked,

		// Links (from funcs_links.go)
		"loginURL": tm.loginURL,

		// Simple (from funcs_simple.go)
		"startsWith":    startsWith,
		"pluginEnabled": tm.pluginEnabled,
		"wikiSettings":  tm.wikiSettings,
		"inc":           inc,
		"isSet":         isSet,
	}
	for name, fn := range builtins {
		if _, taken := funcs[name]; taken {
			tm.logger.Warn("Plugin template function shadows a wiki helper and was ignored", "name", name)
		}
		funcs[name] = fn
	}
	return funcs
}

// SetConfig applies a new configuration. Cached objects are kept.
func (tm *TemplateManager) SetConfig(config *TemplateConfig) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.config = config
}

type templateSource struct {
	name string
	fsys fs.FS
}

func (tm *TemplateManager) sources() []templateSource {
	builtin, _ := fs.Sub(builtinFiles, "templates")
	sources := []templateSource{{name: "builtin", fsys: builtin}}
	for i, fsys := range tm.services.Plugins.Templates() {
		sources = append(sources, templateSource{name: fmt.Sprintf("plugin #%d", i+1), fsys: fsys})
	}
	if tm.templateDir != "" {
		if info, err := os.Stat(tm.templateDir); err == nil && info.IsDir() {
			sources = append(sources, templateSource{name: tm.templateDir, fsys: os.DirFS(tm.templateDir)})
		} else {
			tm.logger.Debug("Template directory not found, using built-in templates", "dir", tm.templateDir)
		}
	}
	return sources
}

// parseFS parses every .html file below fsys into root, naming each template
// after its slash-separated path.
func parseFS(root *template.Template, fsys fs.FS) ([]string, error) {
	var names []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(p) != ".html" {
			return nil
		}
		src, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		if _, err = root.New(p).Parse(string(src)); err != nil {
			return err
		}
		names = append(names, p)
		return nil
	})
	return names, err
}

// Refresh rebuilds the function map from the plugin registry and reparses
// every template source. The previous template set stays in use if parsing
// fails.
func (tm *TemplateManager) Refresh() error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	tm.funcMap = tm.makeFuncMap()
	root := template.New("").Funcs(tm.funcMap)

	var names []string
	for _, src := range tm.sources() {
		tm.logger.Info("Loading template files...", "source", src.name)
		parsed, err := parseFS(root, src.fsys)
		if err != nil {
			tm.logger.Error("failed to parse template files", "source", src.name, "error", err)
			return err
		}
		names = append(names, parsed...)
	}
	slices.Sort(names)
	names = slices.Compact(names)

	cleanTemplates, err := root.Clone()
	if err != nil {
		tm.logger.Error("failed to create a clean clone of templates", "error", err)
		return err
	}

	tm.templates = root
	tm.cleanTemplates = cleanTemplates
	tm.templateNames = names
	tm.logger.Info("Loaded template files", "count", len(names))
	return nil
}

// Execute renders a specific template by name, writing the output to the provided io.Writer.
// The lock is only held to pick up the current template set, so templates may
// call back into the manager (include, wikiRender) while executing.
func (tm *TemplateManager) Execute(w io.Writer, name string, data any) error {
	if name == "" {
		return nil
	}
	tm.mu.RLock()
	t := tm.templates
	tm.mu.RUnlock()
	return t.ExecuteTemplate(w, name, data)
}

// HasTemplate reports whether a template with the given name is loaded.
func (tm *TemplateManager) HasTemplate(name string) bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.templates.Lookup(name) != nil
}

// GetConfig returns a copy of the current configuration.
func (tm *TemplateManager) GetConfig() TemplateConfig {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return *tm.config
}

// GetTemplateNames returns the sorted names of all loaded template files,
// built-in and plugin templates included.
func (tm *TemplateManager) GetTemplateNames() []string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return slices.Clone(tm.templateNames)
}

// GetTemplateDir returns the on-disk template dir that the TemplateManager uses.
func (tm *TemplateManager) GetTemplateDir() string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.templateDir
}

// ExecuteTemplateString parses and executes a raw template string using the manager's function map.
// This is ideal for testing or previewing templates without saving them to disk.
func (tm *TemplateManager) ExecuteTemplateString(w io.Writer, content string, data any) error {
	tm.mu.RLock()
	clean := tm.cleanTemplates
	tm.mu.RUnlock()

	// Clone the clean, unexecuted template set to avoid execution state issues.
	tempSet, err := clean.Clone()
	if err != nil {
		return fmt.Errorf("failed to clone clean templates for string execution: %w", err)
	}

	t, err := tempSet.Parse(content)
	if err != nil {
		return fmt.Errorf("failed to parse string template: %w", err)
	}

	return t.Execute(w, data)
}

// include executes the named template with data and returns its output, so
// templates can include a template whose name is only known at runtime.
func (tm *TemplateManager) include(name string, data any) (template.HTML, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("include: empty template name")
	}
	var buf bytes.Buffer
	if err := tm.Execute(&buf, name, data); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}
