package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/CTAG07/wiki/pkg/notifications"
	"github.com/CTAG07/wiki/pkg/wiki"
)

const defaultPageSize = 50

// ArticleAPI holds the dependencies for the article API handlers.
type ArticleAPI struct {
	articles   *wiki.Store
	renderer   *wiki.Renderer
	dispatcher *notifications.Dispatcher
	logger     *slog.Logger
}

// ArticleInfo is the JSON form of an article.
type ArticleInfo struct {
	ID         int64         `json:"id"`
	Title      string        `json:"title"`
	OwnerID    int64         `json:"owner_id,omitempty"`
	GroupID    int64         `json:"group_id,omitempty"`
	GroupRead  bool          `json:"group_read"`
	GroupWrite bool          `json:"group_write"`
	OtherRead  bool          `json:"other_read"`
	OtherWrite bool          `json:"other_write"`
	Locked     bool          `json:"locked"`
	Deleted    bool          `json:"deleted"`
	Created    time.Time     `json:"created"`
	Modified   time.Time     `json:"modified"`
	Current    *RevisionInfo `json:"current_revision,omitempty"`
	HTML       string        `json:"html,omitempty"`
}

// RevisionInfo is the JSON form of an article revision.
type RevisionInfo struct {
	ID             int64     `json:"id"`
	RevisionNumber int       `json:"revision_number"`
	Title          string    `json:"title"`
	Content        string    `json:"content,omitempty"`
	UserMessage    string    `json:"user_message,omitempty"`
	AutomaticLog   string    `json:"automatic_log,omitempty"`
	IPAddress      string    `json:"ip_address,omitempty"`
	UserID         int64     `json:"user_id,omitempty"`
	PreviousID     int64     `json:"previous_revision_id,omitempty"`
	Deleted        bool      `json:"deleted"`
	Locked         bool      `json:"locked"`
	Created        time.Time `json:"created"`
}

// RevisionRequest is the expected JSON body for creating an article or adding
// a revision to one.
type RevisionRequest struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	UserMessage string `json:"user_message"`
	Locked      bool   `json:"locked"`
	Deleted     bool   `json:"deleted"`
}

// PermissionsRequest is the expected JSON body for changing article permissions.
type PermissionsRequest struct {
	OwnerID    int64 `json:"owner_id"`
	GroupID    int64 `json:"group_id"`
	GroupRead  bool  `json:"group_read"`
	GroupWrite bool  `json:"group_write"`
	OtherRead  bool  `json:"other_read"`
	OtherWrite bool  `json:"other_write"`
}

func NewArticleAPI(articles *wiki.Store, renderer *wiki.Renderer, dispatcher *notifications.Dispatcher, logger *slog.Logger) *ArticleAPI {
	return &ArticleAPI{
		articles:   articles,
		renderer:   renderer,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// RegisterRoutes sets up the routing for all /api/articles endpoints.
func (a *ArticleAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/articles", a.handleArticles)
	mux.HandleFunc("/api/articles/", a.handleArticle)
}

func revisionInfo(rev *wiki.ArticleRevision, withContent bool) *RevisionInfo {
	if rev == nil {
		return nil
	}
	info := &RevisionInfo{
		ID:             rev.ID,
		RevisionNumber: rev.RevisionNumber,
		Title:          rev.Title,
		UserMessage:    rev.UserMessage,
		AutomaticLog:   rev.AutomaticLog,
		IPAddress:      rev.IPAddress,
		UserID:         rev.UserID,
		PreviousID:     rev.PreviousRevisionID,
		Deleted:        rev.Deleted,
		Locked:         rev.Locked,
		Created:        rev.Created,
	}
	if withContent {
		info.Content = rev.Content
	}
	return info
}

func articleInfo(art *wiki.Article, withContent bool) ArticleInfo {
	return ArticleInfo{
		ID:         art.ID,
		Title:      art.String(),
		OwnerID:    art.OwnerID,
		GroupID:    art.GroupID,
		GroupRead:  art.GroupRead,
		GroupWrite: art.GroupWrite,
		OtherRead:  art.OtherRead,
		OtherWrite: art.OtherWrite,
		Locked:     art.IsLocked(),
		Deleted:    art.IsDeleted(),
		Created:    art.Created,
		Modified:   art.Modified,
		Current:    revisionInfo(art.CurrentRevision, withContent),
	}
}

func (a *ArticleAPI) handleArticles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listArticles(w, r)
	case http.MethodPost:
		a.createArticle(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleArticle routes /api/articles/<id>[/revisions[/<rev>]|/permissions].
func (a *ArticleAPI) handleArticle(w http.ResponseWriter, r *http.Request) {
	trimmedPath := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/articles/"), "/")
	parts := strings.Split(trimmedPath, "/")

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid article ID format in URL")
		return
	}
	art, ok := a.loadArticle(w, r, id)
	if !ok {
		return
	}

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			a.getArticle(w, r, art)
		case http.MethodPut:
			a.addRevision(w, r, art)
		case http.MethodDelete:
			a.deleteArticle(w, r, art)
		default:
			w.Header().Set("Allow", "GET, PUT, DELETE")
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	case len(parts) == 2 && parts[1] == "revisions":
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", "GET")
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		a.listRevisions(w, r, art)
	case len(parts) == 3 && parts[1] == "revisions":
		revID, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid revision ID format in URL")
			return
		}
		switch r.Method {
		case http.MethodGet:
			a.getRevision(w, r, art, revID)
		case http.MethodPost:
			a.changeRevision(w, r, art, revID)
		default:
			w.Header().Set("Allow", "GET, POST")
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	case len(parts) == 2 && parts[1] == "permissions":
		if r.Method != http.MethodPut {
			w.Header().Set("Allow", "PUT")
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		a.updatePermissions(w, r, art)
	default:
		respondWithError(w, http.StatusNotFound, "Not Found")
	}
}

// loadArticle fetches the article and checks that the user may read it.
func (a *ArticleAPI) loadArticle(w http.ResponseWriter, r *http.Request, id int64) (*wiki.Article, bool) {
	art, err := a.articles.GetArticle(r.Context(), id)
	if errors.Is(err, wiki.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, "Article not found")
		return nil, false
	}
	if err != nil {
		a.logger.Error("Failed to load article", "article_id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database query failed")
		return nil, false
	}
	if !art.CanRead(wiki.UserFromContext(r.Context())) && !isBootstrap(r) {
		respondWithError(w, http.StatusForbidden, "Forbidden: you cannot read this article")
		return nil, false
	}
	return art, true
}

func (a *ArticleAPI) listArticles(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = defaultPageSize
	}
	offset, err := strconv.Atoi(r.URL.Query().Get("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}

	all, err := a.articles.ListArticles(r.Context(), limit, offset)
	if err != nil {
		a.logger.Error("Failed to list articles", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database query failed")
		return
	}

	user := wiki.UserFromContext(r.Context())
	result := []ArticleInfo{}
	for _, art := range all {
		if art.CanRead(user) || isBootstrap(r) {
			result = append(result, articleInfo(art, false))
		}
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (a *ArticleAPI) decodeRevision(w http.ResponseWriter, r *http.Request) (*wiki.ArticleRevision, bool) {
	var req RevisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return nil, false
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		respondWithError(w, http.StatusBadRequest, "A title is required")
		return nil, false
	}
	if len([]rune(req.Title)) > wiki.MaxTitleLength {
		respondWithError(w, http.StatusBadRequest, "The title is too long")
		return nil, false
	}

	rev := &wiki.ArticleRevision{
		Title:       req.Title,
		Content:     req.Content,
		UserMessage: req.UserMessage,
		Locked:      req.Locked,
		Deleted:     req.Deleted,
		IPAddress:   wiki.ClientIPFromContext(r.Context()),
	}
	if user := wiki.UserFromContext(r.Context()); !user.IsAnonymous() {
		rev.UserID = user.ID
	}
	return rev, true
}

func (a *ArticleAPI) createArticle(w http.ResponseWriter, r *http.Request) {
	user := wiki.UserFromContext(r.Context())
	if user.IsAnonymous() && !isBootstrap(r) {
		respondWithError(w, http.StatusForbidden, "Forbidden: anonymous users cannot create articles")
		return
	}

	rev, ok := a.decodeRevision(w, r)
	if !ok {
		return
	}
	art := wiki.NewArticle()
	if !user.IsAnonymous() {
		art.OwnerID = user.ID
	}
	if err := a.articles.CreateArticle(r.Context(), art, rev); err != nil {
		a.logger.Error("Failed to create article", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to save new article")
		return
	}
	respondWithJSON(w, http.StatusCreated, articleInfo(art, true))
}

func (a *ArticleAPI) getArticle(w http.ResponseWriter, r *http.Request, art *wiki.Article) {
	info := articleInfo(art, true)
	if r.URL.Query().Get("render") != "" {
		info.HTML = string(a.renderer.CachedContent(r.Context(), art, wiki.UserFromContext(r.Context())))
	}
	respondWithJSON(w, http.StatusOK, info)
}

func (a *ArticleAPI) addRevision(w http.ResponseWriter, r *http.Request, art *wiki.Article) {
	user := wiki.UserFromContext(r.Context())
	if !art.CanWrite(user) && !isBootstrap(r) {
		respondWithError(w, http.StatusForbidden, "Forbidden: you cannot edit this article")
		return
	}
	if art.IsLocked() && !art.CanModerate(user) && !isBootstrap(r) {
		respondWithError(w, http.StatusForbidden, "Forbidden: this article is locked")
		return
	}

	rev, ok := a.decodeRevision(w, r)
	if !ok {
		return
	}
	if (rev.Locked || rev.Deleted) && !art.CanModerate(user) && !isBootstrap(r) {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires '"+wiki.PermModerate+"' permission")
		return
	}
	a.saveRevision(w, r, art, rev)
}

func (a *ArticleAPI) saveRevision(w http.ResponseWriter, r *http.Request, art *wiki.Article, rev *wiki.ArticleRevision) {
	if err := a.articles.AddRevision(r.Context(), art.ID, rev); err != nil {
		a.logger.Error("Failed to add revision", "article_id", art.ID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to save revision")
		return
	}
	a.renderer.Invalidate(art.ID)
	if _, err := a.dispatcher.Emit(r.Context(), revisionModel, rev, true); err != nil {
		a.logger.Warn("Failed to send edit notifications", "article_id", art.ID, "error", err)
	}

	art.CurrentRevision = rev
	respondWithJSON(w, http.StatusOK, articleInfo(art, true))
}

// deleteArticle marks the article deleted with a new revision. The history is kept.
func (a *ArticleAPI) deleteArticle(w http.ResponseWriter, r *http.Request, art *wiki.Article) {
	if !art.CanDelete(wiki.UserFromContext(r.Context())) && !isBootstrap(r) {
		respondWithError(w, http.StatusForbidden, "Forbidden: you cannot delete this article")
		return
	}
	if art.IsDeleted() {
		respondWithError(w, http.StatusConflict, "Article is already deleted")
		return
	}

	rev := &wiki.ArticleRevision{
		Deleted:      true,
		AutomaticLog: "Article deleted",
		IPAddress:    wiki.ClientIPFromContext(r.Context()),
	}
	if cur := art.CurrentRevision; cur != nil {
		rev.Title, rev.Content, rev.Locked = cur.Title, cur.Content, cur.Locked
	}
	if user := wiki.UserFromContext(r.Context()); !user.IsAnonymous() {
		rev.UserID = user.ID
	}
	a.saveRevision(w, r, art, rev)
}

func (a *ArticleAPI) listRevisions(w http.ResponseWriter, r *http.Request, art *wiki.Article) {
	revisions, err := a.articles.Revisions(r.Context(), art.ID)
	if err != nil {
		a.logger.Error("Failed to list revisions", "article_id", art.ID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database query failed")
		return
	}
	result := make([]*RevisionInfo, 0, len(revisions))
	for _, rev := range revisions {
		result = append(result, revisionInfo(rev, false))
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (a *ArticleAPI) getRevision(w http.ResponseWriter, r *http.Request, art *wiki.Article, revID int64) {
	rev, err := a.articles.GetRevision(r.Context(), revID)
	if errors.Is(err, wiki.ErrNotFound) || (err == nil && rev.ArticleID != art.ID) {
		respondWithError(w, http.StatusNotFound, "Revision not found")
		return
	}
	if err != nil {
		a.logger.Error("Failed to load revision", "revision_id", revID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database query failed")
		return
	}
	respondWithJSON(w, http.StatusOK, revisionInfo(rev, true))
}

// changeRevision makes an older revision current again.
func (a *ArticleAPI) changeRevision(w http.ResponseWriter, r *http.Request, art *wiki.Article, revID int64) {
	user := wiki.UserFromContext(r.Context())
	if !art.CanWrite(user) && !isBootstrap(r) {
		respondWithError(w, http.StatusForbidden, "Forbidden: you cannot edit this article")
		return
	}
	if art.IsLocked() && !art.CanModerate(user) && !isBootstrap(r) {
		respondWithError(w, http.StatusForbidden, "Forbidden: this article is locked")
		return
	}

	err := a.articles.ChangeRevision(r.Context(), art.ID, revID)
	if errors.Is(err, wiki.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, "Revision not found")
		return
	}
	if err != nil {
		a.logger.Error("Failed to change revision", "article_id", art.ID, "revision_id", revID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to change revision")
		return
	}
	a.renderer.Invalidate(art.ID)

	updated, ok := a.loadArticle(w, r, art.ID)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, articleInfo(updated, true))
}

func (a *ArticleAPI) updatePermissions(w http.ResponseWriter, r *http.Request, art *wiki.Article) {
	if !art.CanModerate(wiki.UserFromContext(r.Context())) && !isBootstrap(r) {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires '"+wiki.PermModerate+"' permission")
		return
	}

	var req PermissionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	art.OwnerID, art.GroupID = req.OwnerID, req.GroupID
	art.GroupRead, art.GroupWrite = req.GroupRead, req.GroupWrite
	art.OtherRead, art.OtherWrite = req.OtherRead, req.OtherWrite

	if err := a.articles.UpdatePermissions(r.Context(), art); err != nil {
		a.logger.Error("Failed to update permissions", "article_id", art.ID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to update permissions")
		return
	}
	a.renderer.Invalidate(art.ID)
	respondWithJSON(w, http.StatusOK, articleInfo(art, false))
}
