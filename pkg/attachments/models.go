// Package attachments is the wiki plugin that lets users attach files to
// articles. Every change to an attachment, including deletion, is stored as a
// new revision so older versions of a file stay downloadable.
package attachments

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/CTAG07/wiki/pkg/wiki"
	"github.com/dustin/go-humanize"
)

const (
	AttachmentContentType = "attachments.attachment"
	RevisionContentType   = "attachments.attachmentrevision"
)

// Attachment is a file attached to an article.
type Attachment struct {
	ID               int64               `json:"id"`
	ArticleID        int64               `json:"article_id"`
	Article          *wiki.Article       `json:"-"`
	CurrentRevision  *AttachmentRevision `json:"current_revision,omitempty"`
	OriginalFilename string              `json:"original_filename"`
	Created          time.Time           `json:"created"`
}

func (at *Attachment) ContentType() string { return AttachmentContentType }

func (at *Attachment) PK() int64 { return at.ID }

func (at *Attachment) String() string {
	return fmt.Sprintf("%s: %s", at.articleTitle(), at.OriginalFilename)
}

func (at *Attachment) articleTitle() string {
	if at.Article == nil {
		return fmt.Sprintf("Article %d", at.ArticleID)
	}
	return at.Article.String()
}

// IsDeleted reports whether the current revision marks the attachment deleted.
func (at *Attachment) IsDeleted() bool {
	return at.CurrentRevision != nil && at.CurrentRevision.Deleted
}

// DownloadURL is where the current revision of the attachment is served.
func (at *Attachment) DownloadURL() string {
	return fmt.Sprintf("/wiki/%d/plugin/%s/download/%d/", at.ArticleID, Slug, at.ID)
}

// Attachments have no permissions of their own; they defer to their article.
// Without a loaded article nothing is allowed.

func (at *Attachment) CanRead(u *wiki.User) bool {
	return at.Article != nil && at.Article.CanRead(u)
}

func (at *Attachment) CanWrite(u *wiki.User) bool {
	return at.Article != nil && at.Article.CanWrite(u)
}

func (at *Attachment) CanDelete(u *wiki.User) bool {
	return at.Article != nil && at.Article.CanDelete(u)
}

func (at *Attachment) CanModerate(u *wiki.User) bool {
	return at.Article != nil && at.Article.CanModerate(u)
}

// AttachmentRevision is one stored version of an attachment's file.
type AttachmentRevision struct {
	ID                 int64       `json:"id"`
	AttachmentID       int64       `json:"attachment_id"`
	Attachment         *Attachment `json:"-"`
	RevisionNumber     int         `json:"revision_number"`
	File               string      `json:"-"`
	FileSize           int64       `json:"size"`
	Description        string      `json:"description"`
	UserMessage        string      `json:"user_message"`
	UserID             int64       `json:"user_id,omitempty"`
	IPAddress          string      `json:"-"`
	PreviousRevisionID int64       `json:"previous_revision_id,omitempty"`
	Deleted            bool        `json:"deleted"`
	Locked             bool        `json:"locked"`
	Created            time.Time   `json:"created"`
}

func (rev *AttachmentRevision) ContentType() string { return RevisionContentType }

func (rev *AttachmentRevision) PK() int64 { return rev.ID }

// Filename is the stored file's name without its last extension. With the
// default ".upload" suffix that is the name the file was uploaded as.
func (rev *AttachmentRevision) Filename() string {
	if rev.File == "" {
		return ""
	}
	base := path.Base(rev.File)
	i := strings.LastIndex(base, ".")
	if i < 0 {
		return ""
	}
	return base[:i]
}

// Size is the stored file's size in bytes.
func (rev *AttachmentRevision) Size() int64 { return rev.FileSize }

func (rev *AttachmentRevision) HumanSize() string {
	return humanize.Bytes(uint64(rev.FileSize))
}

func (rev *AttachmentRevision) String() string {
	name := rev.Filename()
	if rev.Attachment != nil {
		name = rev.Attachment.OriginalFilename
	}
	return fmt.Sprintf("%s: %s (r%d)", name, rev.Description, rev.RevisionNumber)
}

func (rev *AttachmentRevision) CanRead(u *wiki.User) bool {
	return rev.Attachment != nil && rev.Attachment.CanRead(u)
}

func (rev *AttachmentRevision) CanWrite(u *wiki.User) bool {
	return rev.Attachment != nil && rev.Attachment.CanWrite(u)
}

func (rev *AttachmentRevision) CanDelete(u *wiki.User) bool {
	return rev.Attachment != nil && rev.Attachment.CanDelete(u)
}

func (rev *AttachmentRevision) CanModerate(u *wiki.User) bool {
	return rev.Attachment != nil && rev.Attachment.CanModerate(u)
}
