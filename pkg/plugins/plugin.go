// Package plugins defines what a wiki plugin looks like and keeps track of the
// installed ones.
//
// A plugin only has to identify itself. Everything else is opt-in: a plugin
// that also implements ArticleTabber gets a tab on article pages, one that
// implements Notifier has its notification specs dispatched, and so on.
package plugins

import (
	"html/template"
	"io/fs"
	"net/http"

	"github.com/CTAG07/wiki/pkg/wiki"
)

// Plugin is the minimum every plugin implements.
type Plugin interface {
	// Slug is the short, URL-safe identifier, e.g. "attachments".
	Slug() string
	// Name is the fully qualified plugin name, e.g. "wiki.plugins.attachments".
	Name() string
}

// Tab is a link shown next to the article's own tabs.
type Tab struct {
	Slug      string
	Title     string
	IconClass string
}

// Sidebar describes a box rendered in the article edit sidebar.
type Sidebar struct {
	Slug      string
	Headline  string
	IconClass string
	// Template is the name of the template that renders the box.
	Template string
	// Form builds the form shown in the box, if any.
	Form func(a *wiki.Article) wiki.Form
}

// Notification describes when a plugin wants subscribers told about a change.
type Notification struct {
	// Model is the content type of the objects the spec applies to.
	Model string
	// Key is the subscription key that receives the notification.
	Key string
	// Created selects the events the spec fires on: true for newly created
	// objects only, false for changes to existing ones only.
	Created bool
	// Message builds the notification text for obj.
	Message func(obj any) string
	// ArticleID returns the article obj belongs to.
	ArticleID func(obj any) int64
	// URL optionally links the notification to a page.
	URL func(obj any) string
}

// ArticleTabber is implemented by plugins that add an article tab.
type ArticleTabber interface {
	ArticleTab() Tab
}

// Sidebarer is implemented by plugins that add a sidebar box to the editor.
type Sidebarer interface {
	Sidebar() Sidebar
}

// Notifier is implemented by plugins that emit notifications.
type Notifier interface {
	Notifications() []Notification
}

// MarkdownExtender is implemented by plugins that extend article markup.
type MarkdownExtender interface {
	MarkdownExtensions() []wiki.MarkdownExtension
}

// FuncMapper is implemented by plugins that contribute template functions.
type FuncMapper interface {
	TemplateFuncs() template.FuncMap
}

// Templater is implemented by plugins that ship their own templates.
type Templater interface {
	Templates() fs.FS
}

// ArticleViewer is implemented by plugins that serve pages scoped to an article.
// subpath is what follows /wiki/<id>/plugin/<slug>/ in the request path.
type ArticleViewer interface {
	ServeArticle(w http.ResponseWriter, r *http.Request, a *wiki.Article, subpath string)
}
