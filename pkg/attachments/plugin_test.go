package attachments

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"strings"
	"testing"

	"github.com/CTAG07/wiki/pkg/notifications"
	"github.com/CTAG07/wiki/pkg/plugins"
	"github.com/CTAG07/wiki/pkg/wiki"
)

func TestPluginRegistration(t *testing.T) {
	env := setupTestEnv(t)
	reg := plugins.NewRegistry(env.logger)
	reg.MustRegister(NewPlugin(env.store))

	if !reg.Enabled("wiki.plugins.attachments") || !reg.Enabled("attachments") {
		t.Fatal("attachments plugin should be enabled by name and slug")
	}
	tabs := reg.ArticleTabs()
	if len(tabs) != 1 || tabs[0].Title != "Attachments" || tabs[0].IconClass != "fa fa-file" {
		t.Errorf("unexpected tab: %+v", tabs)
	}
	boxes := reg.Sidebars()
	if len(boxes) != 1 || boxes[0].Template != SidebarTemplate || boxes[0].IconClass != "fa-file" || boxes[0].Form != nil {
		t.Errorf("unexpected sidebar: %+v", boxes)
	}

	fsys := reg.Templates()[0]
	if _, err := fs.Stat(fsys, SidebarTemplate); err != nil {
		t.Errorf("sidebar template not shipped: %v", err)
	}
}

func TestNotificationMessages(t *testing.T) {
	p := NewPlugin(nil)
	spec := p.Notifications()[0]
	if spec.Model != RevisionContentType || spec.Key != notifications.ArticleEdit || !spec.Created {
		t.Fatalf("unexpected spec: %+v", spec)
	}

	at := &Attachment{ID: 3, ArticleID: 9}
	rev := &AttachmentRevision{Attachment: at, File: "wiki/attachments/9/a-really-long-file-name-for-testing.txt.upload"}
	if got := spec.Message(rev); got != "A file was changed: a-really-long-file-nam..." {
		t.Errorf("changed message = %q", got)
	}
	rev.Deleted = true
	rev.File = "wiki/attachments/9/x.txt.upload"
	if got := spec.Message(rev); got != "A file was deleted: x.txt" {
		t.Errorf("deleted message = %q", got)
	}
	if spec.ArticleID(rev) != 9 {
		t.Errorf("ArticleID() = %d", spec.ArticleID(rev))
	}
}

func TestNotificationDispatch(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	if err := notifications.SetupSchema(env.db); err != nil {
		t.Fatalf("setup: notifications schema: %v", err)
	}
	ns, err := notifications.NewStore(env.db, env.logger)
	if err != nil {
		t.Fatalf("setup: notifications store: %v", err)
	}
	t.Cleanup(ns.Close)

	reg := plugins.NewRegistry(env.logger)
	reg.MustRegister(NewPlugin(env.store))
	env.store.SetEmitter(notifications.NewDispatcher(reg, ns, env.logger))
	_ = ns.Subscribe(ctx, 42, env.article.ID, notifications.ArticleEdit)

	at := env.upload(t, "plan.txt", "a")
	if _, err = env.store.Delete(ctx, at, nil, ""); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	list, _ := ns.ForUser(ctx, 42, false, 0)
	if len(list) != 2 {
		t.Fatalf("expected two notifications, got %+v", list)
	}
	if list[0].Message != "A file was deleted: plan.txt" || list[1].Message != "A file was changed: plan.txt" {
		t.Errorf("unexpected messages: %q, %q", list[0].Message, list[1].Message)
	}
}

func TestMarkdownExtension(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	at := env.upload(t, "guide.txt", "hello")
	gone := env.upload(t, "old.txt", "bye")
	_, _ = env.store.Delete(ctx, gone, nil, "")

	ext := NewPlugin(env.store).MarkdownExtensions()[0]
	text := fmt.Sprintf(`See [attachment:%d] and [attachment:%d title:"The Guide" size], not [attachment:%d] or [attachment:999].`,
		at.ID, at.ID, gone.ID)
	out := ext.Preprocess(ctx, env.article, text)

	for _, want := range []string{
		fmt.Sprintf("[guide.txt](%s)", at.DownloadURL()),
		fmt.Sprintf("[The Guide](%s) (5 B)", at.DownloadURL()),
		fmt.Sprintf("*Attachment with ID #%d is deleted.*", gone.ID),
		"*Attachment with ID #999 not found.*",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}

	other := wiki.NewArticle()
	other.ID = env.article.ID + 1
	if out = ext.Preprocess(ctx, other, fmt.Sprintf("[attachment:%d]", at.ID)); !strings.Contains(out, "not found") {
		t.Errorf("attachments of other articles must not resolve, got %q", out)
	}
}

func TestSidebarTemplate(t *testing.T) {
	env := setupTestEnv(t)
	env.upload(t, "b.txt", "bb")
	env.upload(t, "a.txt", "a")

	p := NewPlugin(env.store)
	src, err := fs.ReadFile(p.Templates(), SidebarTemplate)
	if err != nil {
		t.Fatalf("failed to read sidebar template: %v", err)
	}
	tmpl := template.Must(template.New(SidebarTemplate).Funcs(p.TemplateFuncs()).Parse(string(src)))

	var b strings.Builder
	if err = tmpl.Execute(&b, map[string]any{"article": env.article}); err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	out := b.String()
	if i, j := strings.Index(out, "a.txt"), strings.Index(out, "b.txt"); i < 0 || j < 0 || i > j {
		t.Errorf("expected both files in name order, got %q", out)
	}

	if err = tmpl.Execute(&b, map[string]any{"article": "not an article"}); err == nil {
		t.Error("expected a type error for a non-article")
	}
}
