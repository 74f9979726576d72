package wiki

import (
	"context"
	"html/template"
	"sync"
	"time"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"
)

// MarkdownExtension rewrites article source before it is converted to HTML.
// Plugins use it to expand their own inline syntax.
type MarkdownExtension interface {
	Preprocess(ctx context.Context, a *Article, text string) string
}

// Renderer turns article markdown into sanitized HTML and caches the result for
// current revisions.
type Renderer struct {
	headingPrefix string
	sanitizer     *bluemonday.Policy
	timeout       time.Duration

	mu         sync.RWMutex
	extensions []MarkdownExtension
	cache      map[cacheKey]cacheEntry
}

type cacheKey struct {
	articleID  int64
	revisionID int64
}

type cacheEntry struct {
	content template.HTML
	expires time.Time
}

// NewRenderer creates a renderer using the heading prefix and cache timeout
// from s.
func NewRenderer(s *Settings, extensions ...MarkdownExtension) *Renderer {
	return &Renderer{
		headingPrefix: s.MarkdownHeadingPrefix,
		sanitizer:     bluemonday.UGCPolicy(),
		timeout:       time.Duration(s.CacheTimeout) * time.Second,
		extensions:    extensions,
		cache:         make(map[cacheKey]cacheEntry),
	}
}

// AddExtensions appends markdown extensions and drops every cached rendering.
func (r *Renderer) AddExtensions(extensions ...MarkdownExtension) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extensions = append(r.extensions, extensions...)
	r.cache = make(map[cacheKey]cacheEntry)
}

// Render returns the HTML for a. When previewContent is not empty it is
// rendered in place of the current revision's content. An article without a
// current revision renders to the empty string.
func (r *Renderer) Render(ctx context.Context, a *Article, previewContent string) template.HTML {
	if a.CurrentRevision == nil {
		return ""
	}
	content := previewContent
	if content == "" {
		content = a.CurrentRevision.Content
	}
	return r.RenderMarkdown(ctx, a, content)
}

// RenderMarkdown converts text to sanitized HTML in the context of article a.
func (r *Renderer) RenderMarkdown(ctx context.Context, a *Article, text string) template.HTML {
	r.mu.RLock()
	extensions := r.extensions
	r.mu.RUnlock()

	for _, ext := range extensions {
		text = ext.Preprocess(ctx, a, text)
	}

	// Parsers and renderers keep per-document state, so each call gets its own.
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{
		Flags:           mdhtml.CommonFlags,
		HeadingIDPrefix: r.headingPrefix,
	})
	unsafeHTML := markdown.ToHTML([]byte(text), p, renderer)
	return template.HTML(r.sanitizer.SanitizeBytes(unsafeHTML))
}

// CachedContent returns the rendered current revision of a, rendering and
// caching it on a miss. The user is accepted so callers need not care whether
// the rendering is personalized; it currently is not.
func (r *Renderer) CachedContent(ctx context.Context, a *Article, _ *User) template.HTML {
	if a.CurrentRevision == nil {
		return ""
	}
	key := cacheKey{articleID: a.ID, revisionID: a.CurrentRevision.ID}
	now := time.Now()

	r.mu.RLock()
	entry, ok := r.cache[key]
	r.mu.RUnlock()
	if ok && now.Before(entry.expires) {
		return entry.content
	}

	content := r.Render(ctx, a, "")
	if r.timeout > 0 {
		r.mu.Lock()
		r.cache[key] = cacheEntry{content: content, expires: now.Add(r.timeout)}
		r.mu.Unlock()
	}
	return content
}

// Invalidate drops every cached rendering of the article.
func (r *Renderer) Invalidate(articleID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.cache {
		if key.articleID == articleID {
			delete(r.cache, key)
		}
	}
}
