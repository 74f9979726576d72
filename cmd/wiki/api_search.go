package main

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/CTAG07/wiki/pkg/attachments"
	"github.com/CTAG07/wiki/pkg/templating"
	"github.com/CTAG07/wiki/pkg/wiki"
	"github.com/dustin/go-humanize"
)

// SearchAPI holds the dependencies for the search handler.
type SearchAPI struct {
	articles *wiki.Store
	files    *attachments.Store
	cm       *ConfigManager
	logger   *slog.Logger
}

// ArticleHit is an article matching a search, with a highlighted excerpt.
type ArticleHit struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Snippet  string `json:"snippet"`
	Modified string `json:"modified"`
}

// AttachmentHit is an attachment matching a search.
type AttachmentHit struct {
	ID          int64  `json:"id"`
	ArticleID   int64  `json:"article_id"`
	Filename    string `json:"filename"`
	Description string `json:"description,omitempty"`
	Size        string `json:"size"`
	URL         string `json:"url"`
}

// SearchResponse is the JSON returned by a search.
type SearchResponse struct {
	Query       string          `json:"query"`
	Articles    []ArticleHit    `json:"articles"`
	Attachments []AttachmentHit `json:"attachments"`
}

func NewSearchAPI(articles *wiki.Store, files *attachments.Store, cm *ConfigManager, logger *slog.Logger) *SearchAPI {
	return &SearchAPI{
		articles: articles,
		files:    files,
		cm:       cm,
		logger:   logger,
	}
}

func (a *SearchAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/search", a.handleSearch)
}

func (a *SearchAPI) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		respondWithError(w, http.StatusBadRequest, "Query parameter 'q' is required")
		return
	}

	config := a.cm.Get()
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > config.Server.SearchLimit {
		limit = config.Server.SearchLimit
	}
	user := wiki.UserFromContext(r.Context())

	found, err := a.articles.Search(r.Context(), query, limit)
	if err != nil {
		a.logger.Error("Article search failed", "query", query, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Search failed")
		return
	}
	resp := SearchResponse{Query: query, Articles: []ArticleHit{}, Attachments: []AttachmentHit{}}
	for _, art := range found {
		if !art.CanRead(user) && !isBootstrap(r) {
			continue
		}
		var content string
		if art.CurrentRevision != nil {
			content = art.CurrentRevision.Content
		}
		resp.Articles = append(resp.Articles, ArticleHit{
			ID:       art.ID,
			Title:    art.String(),
			URL:      "/wiki/" + strconv.FormatInt(art.ID, 10) + "/",
			Snippet:  string(templating.Snippet(content, query, config.Templates.SnippetMaxLetters)),
			Modified: humanize.Time(art.Modified),
		})
	}

	files, err := a.files.Search(r.Context(), query, limit)
	if err != nil {
		a.logger.Error("Attachment search failed", "query", query, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Search failed")
		return
	}
	for _, at := range files {
		if (!at.CanRead(user) && !isBootstrap(r)) || at.CurrentRevision == nil {
			continue
		}
		resp.Attachments = append(resp.Attachments, AttachmentHit{
			ID:          at.ID,
			ArticleID:   at.ArticleID,
			Filename:    at.OriginalFilename,
			Description: at.CurrentRevision.Description,
			Size:        at.CurrentRevision.HumanSize(),
			URL:         at.DownloadURL(),
		})
	}

	respondWithJSON(w, http.StatusOK, resp)
}
