// Package notifications stores per-user notifications about article changes
// and dispatches the notification specs contributed by plugins.
package notifications

import (
	"time"
	"unicode/utf8"
)

// ArticleEdit is the subscription key for changes to an article or anything
// attached to it.
const ArticleEdit = "article_edit"

const maxTitleLength = 25

// TruncateTitle shortens title for use inside a notification message.
func TruncateTitle(title string) string {
	if title == "" {
		return "(none)"
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return string([]rune(title)[:maxTitleLength-3]) + "..."
	}
	return title
}

// Notification is a message stored for one user.
type Notification struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	ArticleID int64     `json:"article_id"`
	Key       string    `json:"key"`
	Message   string    `json:"message"`
	URL       string    `json:"url,omitempty"`
	IsRead    bool      `json:"is_read"`
	Created   time.Time `json:"created"`
}

// Subscription ties a user to the notifications of one article and key.
type Subscription struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"user_id"`
	ArticleID int64  `json:"article_id"`
	Key       string `json:"key"`
}
