package main

import (
	"fmt"

	"github.com/CTAG07/wiki/pkg/notifications"
	"github.com/CTAG07/wiki/pkg/plugins"
	"github.com/CTAG07/wiki/pkg/wiki"
)

// revisionModel is the content type emitted when an article gets a new revision.
const revisionModel = "wiki.articlerevision"

// articleNotifications tells the subscribers of an article about new revisions.
// Attachment changes are covered by the attachments plugin itself.
type articleNotifications struct{}

func (articleNotifications) Slug() string { return "notifications" }
func (articleNotifications) Name() string { return "wiki.plugins.notifications" }

func (articleNotifications) Notifications() []plugins.Notification {
	return []plugins.Notification{{
		Model:   revisionModel,
		Key:     notifications.ArticleEdit,
		Created: true,
		Message: func(obj any) string {
			rev, ok := obj.(*wiki.ArticleRevision)
			if !ok {
				return ""
			}
			return "Article edited: " + notifications.TruncateTitle(rev.Title)
		},
		ArticleID: func(obj any) int64 {
			if rev, ok := obj.(*wiki.ArticleRevision); ok {
				return rev.ArticleID
			}
			return 0
		},
		URL: func(obj any) string {
			if rev, ok := obj.(*wiki.ArticleRevision); ok {
				return fmt.Sprintf("/wiki/%d/", rev.ArticleID)
			}
			return ""
		},
	}}
}
