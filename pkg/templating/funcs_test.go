package templating

import (
	"bytes"
	"context"
	"html/template"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/CTAG07/wiki/pkg/wiki"
)

func newRequest(target string) *http.Request {
	return httptest.NewRequest(http.MethodGet, target, nil)
}

// thing is an object of some other app that articles can be attached to.
type thing struct{ id int64 }

func (t thing) ContentType() string { return "tests.thing" }
func (t thing) PK() int64           { return t.id }

// TestTemplateFunctions validates the behavior of each category of template functions.
func TestTemplateFunctions(t *testing.T) {
	env := setupTestManager(t)
	tm := env.tm
	ctx := context.Background()

	t.Run("ArticleForObject", func(t *testing.T) {
		a := env.createArticle(t, "Linked", "text")
		obj := thing{id: 7}

		got, err := tm.articleForObject(Context{}, obj)
		if err != nil || got != nil {
			t.Fatalf("expected no article yet, got %v, %v", got, err)
		}
		if cached, ok := tm.CachedArticle(obj); !ok || cached != nil {
			t.Errorf("a missing association should be cached as nil, got %v, %v", cached, ok)
		}

		if _, err = env.articles.CreateArticleForObject(ctx, a.ID, obj, false); err != nil {
			t.Fatalf("setup: CreateArticleForObject() failed: %v", err)
		}
		got, err = tm.articleForObject(Context{"request": newRequest("/")}, obj)
		if err != nil || got == nil || got.ID != a.ID {
			t.Fatalf("expected article %d, got %v, %v", a.ID, got, err)
		}
		if cached, _ := tm.CachedArticle(obj); cached == nil || cached.ID != a.ID {
			t.Errorf("every lookup should refresh the cache, got %v", cached)
		}

		before := len(tm.objectCache)
		if _, err = tm.articleForObject(Context{}, "not a model"); err == nil {
			t.Error("expected a type error for a non-model")
		}
		if len(tm.objectCache) != before {
			t.Error("a type error must leave the cache untouched")
		}
	})

	t.Run("ArticleForObjectCacheLimit", func(t *testing.T) {
		cfg := tm.GetConfig()
		cfg.ObjectCacheSize = 2
		tm.SetConfig(&cfg)
		t.Cleanup(func() {
			defaults := DefaultConfig()
			tm.SetConfig(&defaults)
		})

		for i := int64(100); i < 105; i++ {
			if _, err := tm.articleForObject(Context{}, thing{id: i}); err != nil {
				t.Fatalf("articleForObject() failed: %v", err)
			}
		}
		if n := len(tm.objectCache); n > 2 {
			t.Errorf("object cache grew to %d entries past its limit", n)
		}
	})

	t.Run("WikiRender", func(t *testing.T) {
		a := env.createArticle(t, "Rendered", "This is a normal paragraph\n\n# Headline")

		c, err := tm.WikiRender(Context{}, a)
		if err != nil {
			t.Fatalf("WikiRender() failed: %v", err)
		}
		content, _ := c["content"].(template.HTML)
		if !strings.Contains(string(content), "<p>This is a normal paragraph</p>") ||
			!strings.Contains(string(content), `<h1 id="wiki-toc-headline">Headline</h1>`) {
			t.Errorf("unexpected content: %q", content)
		}
		if c["preview"] != false || c["article"] != a {
			t.Errorf("unexpected article/preview: %v, %v", c["article"], c["preview"])
		}
		if c["STATIC_URL"] != "/static/" || c["CACHE_TIMEOUT"] != 600 {
			t.Errorf("unexpected settings: %v, %v", c["STATIC_URL"], c["CACHE_TIMEOUT"])
		}
		if _, ok := c["plugins"]; !ok {
			t.Error("plugins missing from context")
		}

		c, _ = tm.WikiRender(Context{}, a, "Preview *text*")
		if content, _ = c["content"].(template.HTML); !strings.Contains(string(content), "<em>text</em>") {
			t.Errorf("expected the preview to be rendered, got %q", content)
		}
		if c["preview"] != true {
			t.Error("preview should be true when preview content is given")
		}

		c, _ = tm.WikiRender(Context{}, a, "")
		if c["preview"] != true {
			t.Error("an empty preview still counts as a preview")
		}
		if content, _ = c["content"].(template.HTML); !strings.Contains(string(content), "normal paragraph") {
			t.Errorf("an empty preview should show the current revision, got %q", content)
		}

		c, _ = tm.WikiRender(Context{}, a, nil)
		if c["preview"] != false {
			t.Error("a nil preview is not a preview")
		}

		if _, err = tm.WikiRender(Context{}, a, 42); err == nil {
			t.Error("expected an error for a non-text preview")
		}
		if _, err = tm.WikiRender(Context{}, nil); err == nil {
			t.Error("expected an error for a nil article")
		}
	})

	t.Run("WikiRenderWithoutRevision", func(t *testing.T) {
		a := wiki.NewArticle()
		if err := env.articles.CreateArticle(ctx, a, nil); err != nil {
			t.Fatalf("setup: CreateArticle() failed: %v", err)
		}

		c, _ := tm.WikiRender(Context{}, a, "preview content")
		if c["content"] != template.HTML("") {
			t.Errorf("expected empty content, got %#v", c["content"])
		}
		if c["preview"] != true {
			t.Error("expected preview to be true")
		}

		c, _ = tm.WikiRender(Context{}, a)
		if c["content"] != nil {
			t.Errorf("expected no content, got %#v", c["content"])
		}

		out, err := tm.wikiRender(Context{}, a)
		if err != nil {
			t.Fatalf("wikiRender() failed: %v", err)
		}
		if !strings.Contains(string(out), "This article is empty.") {
			t.Errorf("unexpected output: %q", out)
		}
	})

	t.Run("WikiForm", func(t *testing.T) {
		c := Context{}
		if _, err := tm.wikiForm(c, "not a form"); err == nil {
			t.Error("expected a type error for a non-form")
		}
		if _, ok := c["form"]; ok {
			t.Error("a type error must leave the context unchanged")
		}

		form := wiki.NewCreateRootForm()
		form.Bind(url.Values{"title": {""}})
		out, err := tm.wikiForm(c, form)
		if err != nil {
			t.Fatalf("wikiForm() failed: %v", err)
		}
		if c["form"] != wiki.Form(form) {
			t.Error("the form should be added to the context")
		}
		html := string(out)
		for _, want := range []string{`name="title"`, `maxlength="512"`, `<textarea id="id_content"`, "has-error"} {
			if !strings.Contains(html, want) {
				t.Errorf("form output is missing %q:\n%s", want, html)
			}
		}
	})

	t.Run("WikiMessages", func(t *testing.T) {
		messages := []*wiki.Message{
			{Level: wiki.LevelError, Text: "Oops"},
			{Level: wiki.LevelSuccess, Text: "Saved"},
		}
		out, err := tm.wikiMessages(Context{"messages": messages})
		if err != nil {
			t.Fatalf("wikiMessages() failed: %v", err)
		}
		if messages[0].CSSClass != "alert alert-danger" || messages[1].CSSClass != "alert alert-success" {
			t.Errorf("unexpected classes: %q, %q", messages[0].CSSClass, messages[1].CSSClass)
		}
		if !strings.Contains(string(out), `<div class="alert alert-danger">Oops</div>`) {
			t.Errorf("unexpected output: %q", out)
		}

		values := []wiki.Message{{Level: wiki.LevelWarning, Text: "Careful"}}
		if _, err = tm.WikiMessages(Context{"messages": values}); err != nil || values[0].CSSClass != "alert alert-warning" {
			t.Errorf("value messages not updated: %v, %q", err, values[0].CSSClass)
		}

		if out, err = tm.wikiMessages(Context{}); err != nil || strings.TrimSpace(string(out)) != "" {
			t.Errorf("no messages should render nothing, got %q, %v", out, err)
		}
		if _, err = tm.wikiMessages(Context{"messages": "nope"}); err == nil {
			t.Error("expected an error for unsupported messages")
		}
	})

	t.Run("Permissions", func(t *testing.T) {
		a := env.createArticle(t, "Perms", "text")
		owner := &wiki.User{ID: 5, Username: "owner"}
		a.OwnerID = owner.ID
		a.OtherRead, a.OtherWrite = false, false

		if ok, err := canRead(a, owner); err != nil || !ok {
			t.Errorf("owner should read, got %v, %v", ok, err)
		}
		if ok, _ := canWrite(a, nil); ok {
			t.Error("anonymous users should not write a closed article")
		}
		if ok, _ := canDelete(a, &wiki.User{ID: 1, IsSuperuser: true}); !ok {
			t.Error("superusers may delete")
		}
		if ok, _ := canModerate(a, owner); ok {
			t.Error("owners are not moderators")
		}
		if _, err := canRead("text", owner); err == nil {
			t.Error("expected an error for an object without permissions")
		}

		if isLocked(a) {
			t.Error("article should not be locked")
		}
		a.CurrentRevision.Locked = true
		if !isLocked(a) {
			t.Error("article should be locked")
		}
		if isLocked((*wiki.Article)(nil)) || isLocked("text") {
			t.Error("values without a lock state are never locked")
		}
	})

	t.Run("LoginURL", func(t *testing.T) {
		req := &http.Request{URL: &url.URL{Path: "best/test/page/ever/", RawQuery: "title=Main_page&action=raw"}}
		got, err := tm.loginURL(Context{"request": req})
		if err != nil {
			t.Fatalf("loginURL() failed: %v", err)
		}
		want := "/_accounts/login/?next=best/test/page/ever/%3Ftitle%3DMain_page%26action%3Draw"
		if got != want {
			t.Errorf("loginURL() = %q, want %q", got, want)
		}

		req.URL.RawQuery = ""
		if got, _ = tm.loginURL(Context{"request": req}); got != "/_accounts/login/?next=best/test/page/ever/" {
			t.Errorf("loginURL() without query = %q", got)
		}

		if _, err = tm.loginURL(Context{}); err == nil {
			t.Error("expected an error without a request")
		}

		if q := quote("?a b/ü~"); q != "%3Fa%20b/%C3%BC~" {
			t.Errorf("quote() = %q", q)
		}
	})

	t.Run("SimpleFuncs", func(t *testing.T) {
		if !startsWith("wiki/plugins", "wiki/") || startsWith("wiki", "plugins") {
			t.Error("startsWith returned an incorrect result")
		}
		if !tm.pluginEnabled("wiki.plugins.shouting") || !tm.pluginEnabled("shouting") {
			t.Error("the registered plugin should be enabled by name and slug")
		}
		if tm.pluginEnabled("wiki.plugins.attachments") {
			t.Error("an unregistered plugin should not be enabled")
		}
		if v := tm.wikiSettings("LOGIN_URL"); v != "/_accounts/login/" {
			t.Errorf("wikiSettings(LOGIN_URL) = %v", v)
		}
		if v := tm.wikiSettings("NO_SUCH_SETTING"); v != "" {
			t.Errorf("unknown settings should be empty, got %v", v)
		}
		if inc(1) != 2 || !isSet("x") || isSet("") || isSet(nil) {
			t.Error("simple helpers returned incorrect results")
		}
	})

	t.Run("InTemplates", func(t *testing.T) {
		a := env.createArticle(t, "Template", "body")
		var buf bytes.Buffer
		src := `{{if canRead .article .user}}{{wikiRender . .article}}{{end}}|{{with articleForObject . .article}}{{.ID}}{{else}}none{{end}}`
		if err := tm.ExecuteTemplateString(&buf, src, Context{"article": a, "user": (*wiki.User)(nil)}); err != nil {
			t.Fatalf("ExecuteTemplateString() failed: %v", err)
		}
		out := buf.String()
		if !strings.Contains(out, "<p>body</p>") || !strings.HasSuffix(out, "|none") {
			t.Errorf("unexpected output: %q", out)
		}
	})
}
