package attachments

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"

	"github.com/CTAG07/wiki/pkg/notifications"
	"github.com/CTAG07/wiki/pkg/plugins"
	"github.com/CTAG07/wiki/pkg/wiki"
)

const (
	Slug = "attachments"
	Name = "wiki.plugins.attachments"

	SidebarTemplate = "wiki/plugins/attachments/sidebar.html"
)

//go:embed templates
var templateFiles embed.FS

// Plugin registers attachments with the wiki.
type Plugin struct {
	store *Store
}

func NewPlugin(store *Store) *Plugin {
	return &Plugin{store: store}
}

func (p *Plugin) Slug() string { return Slug }

func (p *Plugin) Name() string { return Name }

func (p *Plugin) Store() *Store { return p.store }

func (p *Plugin) ArticleTab() plugins.Tab {
	return plugins.Tab{Title: "Attachments", IconClass: "fa fa-file"}
}

func (p *Plugin) Sidebar() plugins.Sidebar {
	return plugins.Sidebar{
		Headline:  "Attachments",
		IconClass: "fa-file",
		Template:  SidebarTemplate,
	}
}

func (p *Plugin) Notifications() []plugins.Notification {
	return []plugins.Notification{{
		Model:   RevisionContentType,
		Key:     notifications.ArticleEdit,
		Created: true,
		Message: revisionMessage,
		ArticleID: func(obj any) int64 {
			if rev, ok := obj.(*AttachmentRevision); ok && rev.Attachment != nil {
				return rev.Attachment.ArticleID
			}
			return 0
		},
		URL: func(obj any) string {
			if rev, ok := obj.(*AttachmentRevision); ok && rev.Attachment != nil {
				return fmt.Sprintf("/wiki/%d/plugin/%s/", rev.Attachment.ArticleID, Slug)
			}
			return ""
		},
	}}
}

func revisionMessage(obj any) string {
	rev, ok := obj.(*AttachmentRevision)
	if !ok {
		return ""
	}
	if rev.Deleted {
		return fmt.Sprintf("A file was deleted: %s", notifications.TruncateTitle(rev.Filename()))
	}
	return fmt.Sprintf("A file was changed: %s", notifications.TruncateTitle(rev.Filename()))
}

func (p *Plugin) MarkdownExtensions() []wiki.MarkdownExtension {
	return []wiki.MarkdownExtension{&markdownExtension{store: p.store}}
}

func (p *Plugin) TemplateFuncs() template.FuncMap {
	return template.FuncMap{
		"attachmentsForArticle": p.attachmentsForArticle,
	}
}

// attachmentsForArticle lists the active attachments of an article for the
// sidebar template.
func (p *Plugin) attachmentsForArticle(article any) ([]*Attachment, error) {
	a, ok := article.(*wiki.Article)
	if !ok || a == nil {
		return nil, fmt.Errorf("attachmentsForArticle: expected *wiki.Article, got %T", article)
	}
	return p.store.ForArticle(context.Background(), a)
}

func (p *Plugin) Templates() fs.FS {
	sub, err := fs.Sub(templateFiles, "templates")
	if err != nil {
		panic(err)
	}
	return sub
}
