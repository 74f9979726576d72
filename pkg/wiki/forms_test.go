package wiki

import (
	"net/url"
	"strings"
	"testing"
)

func TestCreateRootForm(t *testing.T) {
	f := NewCreateRootForm()
	if f.IsValid() {
		t.Fatal("an unbound form must not be valid")
	}

	f.Bind(url.Values{"title": {"  "}})
	if f.IsValid() {
		t.Error("blank title should be rejected")
	}
	if errs := f.Field("title").Errors; len(errs) != 1 {
		t.Errorf("expected one title error, got %v", errs)
	}

	f.Bind(url.Values{"title": {strings.Repeat("x", MaxTitleLength+1)}})
	if f.IsValid() {
		t.Error("overlong title should be rejected")
	}

	f.Bind(url.Values{"title": {" Root "}, "content": {"  body\n"}})
	if !f.IsValid() {
		t.Fatalf("expected a valid form, got errors %v", f.Field("title").Errors)
	}
	rev := f.Revision()
	if rev.Title != "Root" || rev.Content != "  body\n" {
		t.Errorf("unexpected revision: %+v", rev)
	}
}

func TestEditForm(t *testing.T) {
	current := &ArticleRevision{Title: "Same", Content: "text"}
	f := NewEditForm(current)
	if f.Value("title") != "Same" {
		t.Error("edit form should start from the current revision")
	}

	f.Bind(url.Values{"title": {"Same"}, "content": {"text"}})
	if f.IsValid() || len(f.NonFieldErrors()) != 1 {
		t.Error("an edit without changes should be rejected")
	}

	f.Bind(url.Values{"title": {"Same"}, "content": {"more text"}, "summary": {"typo"}})
	if !f.IsValid() {
		t.Fatalf("expected a valid edit, got %v", f.NonFieldErrors())
	}
	if rev := f.Revision(); rev.UserMessage != "typo" {
		t.Errorf("summary not carried to the revision: %+v", rev)
	}
}

func TestSettingsLookup(t *testing.T) {
	s := DefaultSettings()
	for _, name := range []string{"LoginURL", "login_url", "LOGIN_URL"} {
		v, ok := s.Lookup(name)
		if !ok || v != "/_accounts/login/" {
			t.Errorf("Lookup(%q) = %v, %v", name, v, ok)
		}
	}
	if _, ok := s.Lookup("NO_SUCH_SETTING"); ok {
		t.Error("unknown settings should not be found")
	}
}
