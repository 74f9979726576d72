package templating

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"

	"github.com/CTAG07/wiki/pkg/wiki"
)

// requestContext returns the context of the request stored under "request",
// or a background context for pages rendered outside of a request.
func requestContext(c Context) context.Context {
	if r, ok := c["request"].(*http.Request); ok && r != nil {
		return r.Context()
	}
	return context.Background()
}

// contextUser returns the user stored under "user", falling back to the user
// attached to the request. Nil means anonymous.
func contextUser(c Context) *wiki.User {
	if u, ok := c["user"].(*wiki.User); ok {
		return u
	}
	if r, ok := c["request"].(*http.Request); ok && r != nil {
		return wiki.UserFromContext(r.Context())
	}
	return nil
}

// articleForObject returns the article associated with obj, or nil when there
// is none. The lookup always hits the store and the result, nil included, is
// written to the object cache.
func (tm *TemplateManager) articleForObject(c Context, obj any) (*wiki.Article, error) {
	model, ok := obj.(wiki.Model)
	if !ok {
		return nil, fmt.Errorf("articleForObject: a wiki.Model is required, got %T", obj)
	}
	if tm.services.Articles == nil {
		return nil, errors.New("articleForObject: no article store configured")
	}

	article, err := tm.services.Articles.ArticleForObject(requestContext(c), model)
	if err != nil && !errors.Is(err, wiki.ErrNotFound) {
		return nil, err
	}

	key := objectKey{contentType: model.ContentType(), pk: model.PK()}
	limit := tm.GetConfig().ObjectCacheSize

	tm.cacheMu.Lock()
	defer tm.cacheMu.Unlock()
	if _, ok = tm.objectCache[key]; !ok && limit > 0 && len(tm.objectCache) >= limit {
		clear(tm.objectCache)
	}
	tm.objectCache[key] = article
	return article, nil
}

// CachedArticle returns what articleForObject last resolved for obj. The
// second result is false if obj was never looked up.
func (tm *TemplateManager) CachedArticle(obj wiki.Model) (*wiki.Article, bool) {
	tm.cacheMu.Lock()
	defer tm.cacheMu.Unlock()
	a, ok := tm.objectCache[objectKey{contentType: obj.ContentType(), pk: obj.PK()}]
	return a, ok
}

// WikiRender fills c with what the render include needs and returns it.
//
// A non-empty preview string is rendered in place of the current revision.
// Otherwise the cached rendering of the current revision is used, and an
// article without one gets no content. "preview" is true whenever a preview
// argument was passed and is not nil, even if it is empty.
func (tm *TemplateManager) WikiRender(c Context, article *wiki.Article, preview ...any) (Context, error) {
	if article == nil {
		return c, errors.New("wikiRender: article is nil")
	}
	var previewValue any
	if len(preview) > 0 {
		previewValue = preview[0]
	}
	previewContent, err := previewText(previewValue)
	if err != nil {
		return c, err
	}

	ctx := requestContext(c)
	var content any
	switch {
	case previewContent != "":
		content = tm.services.Renderer.Render(ctx, article, previewContent)
	case article.CurrentRevision != nil:
		content = tm.services.Renderer.CachedContent(ctx, article, contextUser(c))
	}

	c["article"] = article
	c["content"] = content
	c["preview"] = previewValue != nil
	c["plugins"] = tm.services.Plugins.Plugins()
	c["STATIC_URL"] = tm.services.Settings.StaticURL
	c["CACHE_TIMEOUT"] = tm.services.Settings.CacheTimeout
	return c, nil
}

func previewText(v any) (string, error) {
	switch p := v.(type) {
	case nil:
		return "", nil
	case string:
		return p, nil
	case template.HTML:
		return string(p), nil
	case []byte:
		return string(p), nil
	default:
		return "", fmt.Errorf("wikiRender: preview must be text, got %T", v)
	}
}

func (tm *TemplateManager) wikiRender(c Context, article *wiki.Article, preview ...any) (template.HTML, error) {
	if _, err := tm.WikiRender(c, article, preview...); err != nil {
		return "", err
	}
	return tm.include(tm.GetConfig().RenderTemplate, c)
}

// wikiForm renders form with the form include. Anything that is not a
// wiki.Form is an error and leaves the context unchanged.
func (tm *TemplateManager) wikiForm(c Context, form any) (template.HTML, error) {
	f, ok := form.(wiki.Form)
	if !ok {
		return "", fmt.Errorf("wikiForm: error including form, it's not a form, it's a %T", form)
	}
	c["form"] = f
	return tm.include(tm.GetConfig().FormTemplate, c)
}

// WikiMessages sets the CSS class of every message under "messages" from the
// configured level classes and returns c.
func (tm *TemplateManager) WikiMessages(c Context) (Context, error) {
	classes := tm.services.Settings.MessageTagCSSClass
	switch messages := c["messages"].(type) {
	case nil:
		c["messages"] = []*wiki.Message{}
	case []*wiki.Message:
		for _, m := range messages {
			if m != nil {
				m.CSSClass = classes[m.Level]
			}
		}
	case []wiki.Message:
		for i := range messages {
			messages[i].CSSClass = classes[messages[i].Level]
		}
	default:
		return c, fmt.Errorf("wikiMessages: unsupported messages type %T", messages)
	}
	return c, nil
}

func (tm *TemplateManager) wikiMessages(c Context) (template.HTML, error) {
	if _, err := tm.WikiMessages(c); err != nil {
		return "", err
	}
	return tm.include(tm.GetConfig().MessagesTemplate, c)
}
