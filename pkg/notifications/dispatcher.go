package notifications

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/CTAG07/wiki/pkg/plugins"
)

// Dispatcher turns model changes into stored notifications, using the
// notification specs of the installed plugins.
type Dispatcher struct {
	registry *plugins.Registry
	store    *Store
	logger   *slog.Logger
}

func NewDispatcher(registry *plugins.Registry, store *Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, store: store, logger: logger}
}

// Emit runs every spec registered for model against obj and notifies the
// subscribers of the spec's key on obj's article. A spec fires only when its
// Created flag equals created. It returns the number of notifications stored.
func (d *Dispatcher) Emit(ctx context.Context, model string, obj any, created bool) (int, error) {
	sent := 0
	for _, spec := range d.registry.Notifications() {
		if spec.Model != model || spec.Created != created {
			continue
		}
		if spec.ArticleID == nil || spec.Message == nil {
			d.logger.WarnContext(ctx, "Incomplete notification spec skipped", "model", model, "key", spec.Key)
			continue
		}

		articleID := spec.ArticleID(obj)
		users, err := d.store.Subscribers(ctx, articleID, spec.Key)
		if err != nil {
			return sent, fmt.Errorf("failed to load subscribers: %w", err)
		}
		if len(users) == 0 {
			continue
		}

		n := Notification{ArticleID: articleID, Key: spec.Key, Message: spec.Message(obj)}
		if spec.URL != nil {
			n.URL = spec.URL(obj)
		}
		if err = d.store.Notify(ctx, n, users); err != nil {
			return sent, err
		}
		sent += len(users)
		d.logger.DebugContext(ctx, "Notification dispatched",
			slog.String("model", model),
			slog.Int64("article_id", articleID),
			slog.Int("recipients", len(users)),
		)
	}
	return sent, nil
}
