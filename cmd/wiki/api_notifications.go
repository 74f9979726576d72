package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/CTAG07/wiki/pkg/notifications"
	"github.com/CTAG07/wiki/pkg/wiki"
)

// NotificationAPI lets users read their notifications and manage what they
// are subscribed to.
type NotificationAPI struct {
	notes    *notifications.Store
	articles *wiki.Store
	logger   *slog.Logger
}

// SubscriptionRequest is the expected JSON body for subscribing and unsubscribing.
type SubscriptionRequest struct {
	ArticleID int64  `json:"article_id"`
	Key       string `json:"key"`
}

// MarkReadRequest is the expected JSON body for marking notifications read.
// An empty list marks every notification of the user.
type MarkReadRequest struct {
	IDs []int64 `json:"ids"`
}

// NewNotificationAPI creates a new instance of the NotificationAPI.
func NewNotificationAPI(notes *notifications.Store, articles *wiki.Store, logger *slog.Logger) *NotificationAPI {
	return &NotificationAPI{
		notes:    notes,
		articles: articles,
		logger:   logger,
	}
}

// RegisterRoutes sets up the routing for all /api/notifications endpoints.
func (a *NotificationAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/notifications", a.handleList)
	mux.HandleFunc("/api/notifications/read", a.handleMarkRead)
	mux.HandleFunc("/api/notifications/subscriptions", a.handleSubscriptions)
}

// currentUser returns the requesting user, answering 401 for anonymous requests.
func currentUser(w http.ResponseWriter, r *http.Request) (*wiki.User, bool) {
	user := wiki.UserFromContext(r.Context())
	if user.IsAnonymous() {
		respondWithError(w, http.StatusUnauthorized, "This endpoint requires a user")
		return nil, false
	}
	return user, true
}

func (a *NotificationAPI) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	unreadOnly, _ := strconv.ParseBool(r.URL.Query().Get("unread"))
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = defaultPageSize
	}

	list, err := a.notes.ForUser(r.Context(), user.ID, unreadOnly, limit)
	if err != nil {
		a.logger.Error("Failed to query notifications", "user_id", user.ID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve notifications")
		return
	}
	if list == nil {
		list = []notifications.Notification{}
	}
	respondWithJSON(w, http.StatusOK, list)
}

func (a *NotificationAPI) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var payload MarkReadRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
			return
		}
	}

	n, err := a.notes.MarkRead(r.Context(), user.ID, payload.IDs...)
	if err != nil {
		a.logger.Error("Failed to mark notifications read", "user_id", user.ID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to update notifications")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]int64{"marked": n})
}

func (a *NotificationAPI) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.listSubscriptions(w, r, user)
	case http.MethodPost:
		a.subscribe(w, r, user)
	case http.MethodDelete:
		a.unsubscribe(w, r, user)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (a *NotificationAPI) listSubscriptions(w http.ResponseWriter, r *http.Request, user *wiki.User) {
	subs, err := a.notes.Subscriptions(r.Context(), user.ID)
	if err != nil {
		a.logger.Error("Failed to query subscriptions", "user_id", user.ID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve subscriptions")
		return
	}
	if subs == nil {
		subs = []notifications.Subscription{}
	}
	respondWithJSON(w, http.StatusOK, subs)
}

func decodeSubscription(w http.ResponseWriter, r *http.Request) (SubscriptionRequest, bool) {
	var payload SubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return payload, false
	}
	payload.Key = strings.TrimSpace(payload.Key)
	if payload.Key == "" {
		payload.Key = notifications.ArticleEdit
	}
	if payload.ArticleID <= 0 {
		respondWithError(w, http.StatusBadRequest, "An article_id is required")
		return payload, false
	}
	return payload, true
}

func (a *NotificationAPI) subscribe(w http.ResponseWriter, r *http.Request, user *wiki.User) {
	payload, ok := decodeSubscription(w, r)
	if !ok {
		return
	}

	art, err := a.articles.GetArticle(r.Context(), payload.ArticleID)
	if errors.Is(err, wiki.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, "Article not found")
		return
	}
	if err != nil {
		a.logger.Error("Failed to load article", "article_id", payload.ArticleID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database query failed")
		return
	}
	if !art.CanRead(user) {
		respondWithError(w, http.StatusForbidden, "Forbidden: you cannot read this article")
		return
	}

	if err = a.notes.Subscribe(r.Context(), user.ID, art.ID, payload.Key); err != nil {
		a.logger.Error("Failed to subscribe", "user_id", user.ID, "article_id", art.ID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to subscribe")
		return
	}
	a.logger.Info("User subscribed", "user_id", user.ID, "article_id", art.ID, "key", payload.Key)
	respondWithJSON(w, http.StatusCreated, map[string]string{"message": "Subscribed"})
}

func (a *NotificationAPI) unsubscribe(w http.ResponseWriter, r *http.Request, user *wiki.User) {
	payload, ok := decodeSubscription(w, r)
	if !ok {
		return
	}

	removed, err := a.notes.Unsubscribe(r.Context(), user.ID, payload.ArticleID, payload.Key)
	if err != nil {
		a.logger.Error("Failed to unsubscribe", "user_id", user.ID, "article_id", payload.ArticleID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to unsubscribe")
		return
	}
	if !removed {
		respondWithError(w, http.StatusNotFound, "Subscription not found")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Unsubscribed"})
}
