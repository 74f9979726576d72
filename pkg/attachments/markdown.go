package attachments

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/CTAG07/wiki/pkg/wiki"
)

// attachmentTag matches [attachment:12], [attachment:12 title:"Report"] and
// either of them followed by " size".
var attachmentTag = regexp.MustCompile(`\[attachment:(\d+)(?:\s+title:"([^"]*)")?(\s+size)?\]`)

var markdownEscaper = strings.NewReplacer(`\`, `\\`, `[`, `\[`, `]`, `\]`, `*`, `\*`, `_`, `\_`, "`", "\\`")

// markdownExtension turns attachment tags into download links.
type markdownExtension struct {
	store *Store
}

func (e *markdownExtension) Preprocess(ctx context.Context, a *wiki.Article, text string) string {
	if !strings.Contains(text, "[attachment:") {
		return text
	}
	return attachmentTag.ReplaceAllStringFunc(text, func(tag string) string {
		m := attachmentTag.FindStringSubmatch(tag)
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return tag
		}

		at, err := e.store.Get(ctx, id)
		switch {
		case errors.Is(err, wiki.ErrNotFound):
			return fmt.Sprintf("*Attachment with ID #%d not found.*", id)
		case err != nil:
			e.store.logger.WarnContext(ctx, "Failed to resolve attachment tag", "attachment_id", id, "error", err)
			return tag
		case at.ArticleID != a.ID:
			return fmt.Sprintf("*Attachment with ID #%d not found.*", id)
		case at.IsDeleted():
			return fmt.Sprintf("*Attachment with ID #%d is deleted.*", id)
		}

		title := m[2]
		if title == "" {
			title = at.OriginalFilename
		}
		link := fmt.Sprintf("[%s](%s)", markdownEscaper.Replace(title), at.DownloadURL())
		if m[3] != "" && at.CurrentRevision != nil {
			link += fmt.Sprintf(" (%s)", at.CurrentRevision.HumanSize())
		}
		return link
	})
}
