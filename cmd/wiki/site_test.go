package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestSite_CreateViewEdit(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.siteRequest(t, http.MethodGet, "/", "", "")
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/_create/" {
		t.Fatalf("an empty wiki should redirect to the create page, got %d %q", rr.Code, rr.Header().Get("Location"))
	}

	rr = ts.siteRequest(t, http.MethodGet, "/_create/", "", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `name="title"`) {
		t.Fatalf("create form not rendered: %d\n%s", rr.Code, rr.Body.String())
	}

	rr = ts.siteRequest(t, http.MethodPost, "/_create/", "", "title=&content=x")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "has-error") {
		t.Errorf("an empty title should re-render the form with errors, got %d", rr.Code)
	}

	rr = ts.siteRequest(t, http.MethodPost, "/_create/", "", "title=Main+Page&content=Hello+*world*")
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/wiki/1/" {
		t.Fatalf("create should redirect to the article, got %d %q", rr.Code, rr.Header().Get("Location"))
	}

	req := ts.siteRequest
	rr = req(t, http.MethodGet, "/wiki/1/", "", "")
	body := rr.Body.String()
	for _, want := range []string{
		"<title>Main Page - Wiki</title>",
		"Hello <em>world</em>",
		"/wiki/1/edit/",
		"/wiki/1/plugin/attachments/",
		"There are no attachments for this article.",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("article page is missing %q:\n%s", want, body)
		}
	}

	rr = req(t, http.MethodGet, "/wiki/1/edit/", "", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `value="Main Page"`) {
		t.Errorf("edit form should be prefilled, got %d", rr.Code)
	}

	rr = req(t, http.MethodPost, "/wiki/1/edit/", "", "title=Main+Page&content=Hello+*world*")
	if !strings.Contains(rr.Body.String(), "No changes made. Nothing to save.") {
		t.Errorf("an unchanged edit should be rejected:\n%s", rr.Body.String())
	}

	rr = req(t, http.MethodPost, "/wiki/1/edit/", "", "title=Main+Page&content=Hello+brave+*world*&summary=wording")
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("a valid edit should redirect, got %d", rr.Code)
	}
	revisions, err := ts.articles.Revisions(context.Background(), 1)
	if err != nil || len(revisions) != 2 {
		t.Fatalf("expected 2 revisions, got %d, %v", len(revisions), err)
	}
	if revisions[0].UserMessage != "wording" || revisions[0].IPAddress == "" {
		t.Errorf("revision not recorded correctly: %+v", revisions[0])
	}
	if rr = req(t, http.MethodGet, "/wiki/1/", "", ""); !strings.Contains(rr.Body.String(), "Hello brave <em>world</em>") {
		t.Error("the article page should show the new revision")
	}

	rr = req(t, http.MethodPost, "/wiki/1/preview/", "", "title=Draft&content=Draft+*text*")
	body = rr.Body.String()
	if !strings.Contains(body, "<em>text</em>") || !strings.Contains(body, "This is a preview.") {
		t.Errorf("preview not rendered:\n%s", body)
	}
	if rr = req(t, http.MethodGet, "/wiki/1/preview/", "", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET preview should not be allowed, got %d", rr.Code)
	}

	rr = req(t, http.MethodGet, "/", "", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `<a href="/wiki/1/">Main Page</a>`) {
		t.Errorf("index should list the article, got %d:\n%s", rr.Code, rr.Body.String())
	}
}

func TestSite_NotFound(t *testing.T) {
	ts := newTestServer(t)

	for _, target := range []string{"/nope", "/wiki/abc/", "/wiki/99/", "/wiki/1/plugin/nothing/"} {
		if target == "/wiki/1/plugin/nothing/" {
			ts.siteRequest(t, http.MethodPost, "/_create/", "", "title=One&content=x")
		}
		rr := ts.siteRequest(t, http.MethodGet, target, "", "")
		if rr.Code != http.StatusNotFound {
			t.Errorf("GET %s returned %d, want 404", target, rr.Code)
		}
	}
}

func TestSite_Search(t *testing.T) {
	ts := newTestServer(t)
	ts.siteRequest(t, http.MethodPost, "/_create/", "", "title=Fruit&content=Apples+and+pears+grow+on+trees.")
	ts.siteRequest(t, http.MethodPost, "/_create/", "", "title=Stones&content=Rocks+do+not.")

	rr := ts.siteRequest(t, http.MethodGet, "/search/?q=pears", "", "")
	body := rr.Body.String()
	if !strings.Contains(body, `<strong style="background:#ddd">pears</strong>`) {
		t.Errorf("search results should highlight the keyword:\n%s", body)
	}
	if !strings.Contains(body, `1. <a href="/wiki/1/">Fruit</a>`) || strings.Contains(body, "Stones") {
		t.Errorf("unexpected search results:\n%s", body)
	}

	rr = ts.siteRequest(t, http.MethodGet, "/search/", "", "")
	if !strings.Contains(rr.Body.String(), "Type something in the search box") {
		t.Error("an empty search should show the hint")
	}
}

func TestSite_LoginAndMessages(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.createUser(t, "", CreateUserRequest{Username: "alice"})

	rr := ts.siteRequest(t, http.MethodGet, "/_accounts/login/?next=/wiki/1/", "", "")
	if !strings.Contains(rr.Body.String(), `name="next" value="/wiki/1/"`) {
		t.Errorf("login form should carry the next page:\n%s", rr.Body.String())
	}

	rr = ts.siteRequest(t, http.MethodPost, "/_accounts/login/", "", "token=wrong&next=/")
	if rr.Code != http.StatusUnauthorized || !strings.Contains(rr.Body.String(), "That token is not valid.") {
		t.Errorf("a bad token should be refused, got %d", rr.Code)
	}

	rr = ts.siteRequest(t, http.MethodPost, "/_accounts/login/", "", "token="+url.QueryEscape(token)+"&next=//evil.example")
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/" {
		t.Errorf("login should redirect to a local page, got %d %q", rr.Code, rr.Header().Get("Location"))
	}
	var authSet bool
	for _, c := range rr.Result().Cookies() {
		if c.Name == authCookie && c.Value == token && c.HttpOnly {
			authSet = true
		}
	}
	if !authSet {
		t.Error("login should set the auth cookie")
	}

	rr = ts.siteRequest(t, http.MethodGet, "/_create/", token, "")
	if !strings.Contains(rr.Body.String(), `<span class="navbar-text">alice</span>`) {
		t.Errorf("logged in pages should show the user:\n%s", rr.Body.String())
	}

	rr = ts.siteRequest(t, http.MethodPost, "/_create/", token, "title=Owned&content=mine")
	var flash *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == messagesCookie {
			flash = c
		}
	}
	if flash == nil {
		t.Fatal("creating an article should leave a message")
	}
	a, err := ts.articles.GetArticle(context.Background(), 1)
	if err != nil || a.OwnerID != 1 {
		t.Errorf("the article should be owned by the creator, got %+v, %v", a, err)
	}

	get := httptest.NewRequest(http.MethodGet, "/wiki/1/", nil)
	get.AddCookie(flash)
	rr = httptest.NewRecorder()
	ts.site.ServeHTTP(rr, get)
	if !strings.Contains(rr.Body.String(), `<div class="alert alert-success">The article was created.</div>`) {
		t.Errorf("the flash message should be shown:\n%s", rr.Body.String())
	}

	rr = ts.siteRequest(t, http.MethodGet, "/_accounts/logout/", token, "")
	if rr.Code != http.StatusSeeOther {
		t.Errorf("logout should redirect, got %d", rr.Code)
	}

	if safeRedirect("/wiki/2/") != "/wiki/2/" || safeRedirect("https://evil.example/") != "/" || safeRedirect(`/\evil`) != "/" {
		t.Error("safeRedirect returned an unexpected target")
	}
}

func TestSite_Permissions(t *testing.T) {
	ts := newTestServer(t, func(c *Config) {
		c.Wiki.AnonymousWrite = false
	})
	_, token := ts.createUser(t, "", CreateUserRequest{Username: "writer"})

	rr := ts.siteRequest(t, http.MethodGet, "/_create/", "", "")
	want := "/_accounts/login/?next=" + url.QueryEscape("/_create/")
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != want {
		t.Errorf("anonymous users should be sent to log in, got %d %q", rr.Code, rr.Header().Get("Location"))
	}

	ts.siteRequest(t, http.MethodPost, "/_create/", token, "title=Closed&content=x")
	a, err := ts.articles.GetArticle(context.Background(), 1)
	if err != nil {
		t.Fatalf("article was not created: %v", err)
	}
	a.OtherRead = false
	if err = ts.articles.UpdatePermissions(context.Background(), a); err != nil {
		t.Fatalf("UpdatePermissions() failed: %v", err)
	}

	if rr = ts.siteRequest(t, http.MethodGet, "/wiki/1/", "", ""); rr.Code != http.StatusSeeOther {
		t.Errorf("anonymous readers of a closed article should be redirected, got %d", rr.Code)
	}
	_, otherToken := ts.createUser(t, token, CreateUserRequest{Username: "other"})
	if rr = ts.siteRequest(t, http.MethodGet, "/wiki/1/", otherToken, ""); rr.Code != http.StatusForbidden {
		t.Errorf("other users should be refused, got %d", rr.Code)
	}
	if rr = ts.siteRequest(t, http.MethodGet, "/wiki/1/", token, ""); rr.Code != http.StatusOK {
		t.Errorf("the owner should read the article, got %d", rr.Code)
	}
}
