package wiki

import (
	"reflect"
	"strings"
)

// Settings holds the wiki-wide options that templates and views consult.
type Settings struct {
	// LoginURL is where anonymous users are sent to authenticate.
	LoginURL string `json:"login_url" env:"LOGIN_URL"`

	// StaticURL is the URL prefix static assets are served from.
	StaticURL string `json:"static_url" env:"STATIC_URL"`

	// CacheTimeout is how long rendered article content is cached, in seconds.
	CacheTimeout int `json:"cache_timeout" env:"CACHE_TIMEOUT"`

	// Anonymous allows unauthenticated users to read articles.
	Anonymous bool `json:"anonymous" env:"ANONYMOUS"`

	// AnonymousWrite allows unauthenticated users to edit articles.
	AnonymousWrite bool `json:"anonymous_write" env:"ANONYMOUS_WRITE"`

	// MarkdownHeadingPrefix is prepended to generated heading ids.
	MarkdownHeadingPrefix string `json:"markdown_heading_prefix" env:"MARKDOWN_HEADING_PREFIX"`

	// MessageTagCSSClass maps a message level to the CSS classes used to show it.
	MessageTagCSSClass map[MessageLevel]string `json:"message_tag_css_class"`
}

// DefaultSettings returns the settings a fresh installation starts with.
func DefaultSettings() *Settings {
	return &Settings{
		LoginURL:              "/_accounts/login/",
		StaticURL:             "/static/",
		CacheTimeout:          600,
		Anonymous:             true,
		AnonymousWrite:        true,
		MarkdownHeadingPrefix: "wiki-toc-",
		MessageTagCSSClass: map[MessageLevel]string{
			LevelDebug:   "alert alert-info",
			LevelInfo:    "alert alert-info",
			LevelSuccess: "alert alert-success",
			LevelWarning: "alert alert-warning",
			LevelError:   "alert alert-danger",
		},
	}
}

// Lookup returns the value of the setting called name. The name may be the Go
// field name ("LoginURL"), the JSON name ("login_url") or its upper-case form
// ("LOGIN_URL"). Unknown names report false.
func (s *Settings) Lookup(name string) (any, bool) {
	if s == nil || name == "" {
		return nil, false
	}
	v := reflect.ValueOf(s).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		jsonName, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if f.Name == name || strings.EqualFold(jsonName, name) {
			return v.Field(i).Interface(), true
		}
	}
	return nil, false
}
