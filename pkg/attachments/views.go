package attachments

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/CTAG07/wiki/pkg/wiki"
	"github.com/gabriel-vasile/mimetype"
)

// multipartOverhead is the room left for form fields next to the file itself.
const multipartOverhead = 1 << 20

type attachmentView struct {
	*Attachment
	DownloadURL string `json:"download_url"`
}

func viewOf(at *Attachment) attachmentView {
	return attachmentView{Attachment: at, DownloadURL: at.DownloadURL()}
}

// ServeArticle handles everything below /wiki/<id>/plugin/attachments/.
//
//	GET  /                             list the article's attachments
//	POST /                             upload a new attachment
//	GET  /search/?q=                   search attachments the user can read
//	GET  /download/<id>/               download the current revision
//	GET  /download/<id>/revision/<r>/  download a specific revision
//	POST /replace/<id>/                upload a new revision
//	POST /delete/<id>/                 mark the attachment deleted
//	GET  /history/<id>/                list revisions
//	POST /change/<id>/revision/<r>/    restore an older revision
func (p *Plugin) ServeArticle(w http.ResponseWriter, r *http.Request, a *wiki.Article, subpath string) {
	var parts []string
	if trimmed := strings.Trim(subpath, "/"); trimmed != "" {
		parts = strings.Split(trimmed, "/")
	}
	user := wiki.UserFromContext(r.Context())

	if !a.CanRead(user) {
		respondWithError(w, http.StatusForbidden, "You do not have permission to view this article")
		return
	}

	switch {
	case len(parts) == 0:
		switch r.Method {
		case http.MethodGet:
			p.handleList(w, r, a)
		case http.MethodPost:
			p.handleUpload(w, r, a, user)
		default:
			w.Header().Set("Allow", "GET, POST")
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	case len(parts) == 1 && parts[0] == "search":
		p.handleSearch(w, r, user)
	case len(parts) == 2 && parts[0] == "download":
		p.handleDownload(w, r, a, parts[1], "")
	case len(parts) == 4 && parts[0] == "download" && parts[2] == "revision":
		p.handleDownload(w, r, a, parts[1], parts[3])
	case len(parts) == 2 && parts[0] == "history":
		p.handleHistory(w, r, a, parts[1])
	case len(parts) == 2 && parts[0] == "replace":
		p.handleReplace(w, r, a, user, parts[1])
	case len(parts) == 2 && parts[0] == "delete":
		p.handleDelete(w, r, a, user, parts[1])
	case len(parts) == 4 && parts[0] == "change" && parts[2] == "revision":
		p.handleChangeRevision(w, r, a, user, parts[1], parts[3])
	default:
		respondWithError(w, http.StatusNotFound, "Not found")
	}
}

// loadAttachment resolves an id from the URL to an attachment of article a.
func (p *Plugin) loadAttachment(w http.ResponseWriter, r *http.Request, a *wiki.Article, rawID string) (*Attachment, bool) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid attachment id")
		return nil, false
	}
	at, err := p.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, wiki.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Attachment not found")
		} else {
			p.store.logger.Error("Failed to load attachment", "attachment_id", id, "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to load attachment")
		}
		return nil, false
	}
	if at.ArticleID != a.ID {
		respondWithError(w, http.StatusNotFound, "Attachment not found")
		return nil, false
	}
	at.Article = a
	return at, true
}

// writable checks that the article accepts changes from user.
func writable(w http.ResponseWriter, a *wiki.Article, user *wiki.User) bool {
	if a.IsLocked() && !a.CanModerate(user) {
		respondWithError(w, http.StatusForbidden, "This article is locked")
		return false
	}
	return true
}

func (p *Plugin) handleList(w http.ResponseWriter, r *http.Request, a *wiki.Article) {
	list, err := p.store.ForArticle(r.Context(), a)
	if err != nil {
		p.store.logger.Error("Failed to list attachments", "article_id", a.ID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to list attachments")
		return
	}
	out := make([]attachmentView, 0, len(list))
	for _, at := range list {
		out = append(out, viewOf(at))
	}
	respondWithJSON(w, http.StatusOK, out)
}

func (p *Plugin) handleSearch(w http.ResponseWriter, r *http.Request, user *wiki.User) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	found, err := p.store.Search(r.Context(), r.URL.Query().Get("q"), 0)
	if err != nil {
		p.store.logger.Error("Attachment search failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Search failed")
		return
	}
	out := make([]attachmentView, 0, len(found))
	for _, at := range found {
		if at.CanRead(user) {
			out = append(out, viewOf(at))
		}
	}
	respondWithJSON(w, http.StatusOK, out)
}

// readUpload parses a multipart upload and fills in everything but the body.
func (p *Plugin) readUpload(w http.ResponseWriter, r *http.Request, user *wiki.User) (Upload, io.ReadCloser, bool) {
	limit := p.store.cfg.MaxFileSize + multipartOverhead
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			respondWithError(w, http.StatusRequestEntityTooLarge, "File too large")
		} else {
			respondWithError(w, http.StatusBadRequest, "Invalid multipart form")
		}
		return Upload{}, nil, false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Missing file")
		return Upload{}, nil, false
	}
	return Upload{
		Filename:    header.Filename,
		Body:        file,
		Description: strings.TrimSpace(r.FormValue("description")),
		Message:     strings.TrimSpace(r.FormValue("message")),
		User:        user,
		IPAddress:   wiki.ClientIPFromContext(r.Context()),
	}, file, true
}

// respondWithStoreError maps upload errors to responses.
func (p *Plugin) respondWithStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrIllegalExtension), errors.Is(err, ErrInvalidFilename):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrFileTooLarge):
		respondWithError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, wiki.ErrNotFound):
		respondWithError(w, http.StatusNotFound, "Not found")
	default:
		p.store.logger.Error("Attachment operation failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Attachment operation failed")
	}
}

func (p *Plugin) handleUpload(w http.ResponseWriter, r *http.Request, a *wiki.Article, user *wiki.User) {
	if !p.store.CanUpload(a, user) {
		respondWithError(w, http.StatusForbidden, "You do not have permission to add attachments")
		return
	}
	if !writable(w, a, user) {
		return
	}
	up, body, ok := p.readUpload(w, r, user)
	if !ok {
		return
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(body)

	at, err := p.store.Create(r.Context(), a, up)
	if err != nil {
		p.respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, viewOf(at))
}

func (p *Plugin) handleReplace(w http.ResponseWriter, r *http.Request, a *wiki.Article, user *wiki.User, rawID string) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	at, ok := p.loadAttachment(w, r, a, rawID)
	if !ok {
		return
	}
	if !p.store.CanUpload(a, user) || !at.CanWrite(user) {
		respondWithError(w, http.StatusForbidden, "You do not have permission to replace this attachment")
		return
	}
	if !writable(w, a, user) {
		return
	}
	up, body, ok := p.readUpload(w, r, user)
	if !ok {
		return
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(body)

	if _, err := p.store.Replace(r.Context(), at, up); err != nil {
		p.respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, viewOf(at))
}

func (p *Plugin) handleDelete(w http.ResponseWriter, r *http.Request, a *wiki.Article, user *wiki.User, rawID string) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		w.Header().Set("Allow", "POST, DELETE")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	at, ok := p.loadAttachment(w, r, a, rawID)
	if !ok {
		return
	}
	if !at.CanDelete(user) {
		respondWithError(w, http.StatusForbidden, "You do not have permission to delete this attachment")
		return
	}
	if !writable(w, a, user) {
		return
	}
	if at.IsDeleted() {
		respondWithError(w, http.StatusConflict, "Attachment is already deleted")
		return
	}
	if _, err := p.store.Delete(r.Context(), at, user, wiki.ClientIPFromContext(r.Context())); err != nil {
		p.respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Attachment deleted"})
}

func (p *Plugin) handleHistory(w http.ResponseWriter, r *http.Request, a *wiki.Article, rawID string) {
	at, ok := p.loadAttachment(w, r, a, rawID)
	if !ok {
		return
	}
	revisions, err := p.store.Revisions(r.Context(), at)
	if err != nil {
		p.respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"attachment": viewOf(at),
		"revisions":  revisions,
	})
}

func (p *Plugin) handleChangeRevision(w http.ResponseWriter, r *http.Request, a *wiki.Article, user *wiki.User, rawID, rawRev string) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	at, ok := p.loadAttachment(w, r, a, rawID)
	if !ok {
		return
	}
	if !at.CanWrite(user) {
		respondWithError(w, http.StatusForbidden, "You do not have permission to change this attachment")
		return
	}
	if !writable(w, a, user) {
		return
	}
	revID, err := strconv.ParseInt(rawRev, 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid revision id")
		return
	}
	rev, err := p.store.Restore(r.Context(), at, revID, user, wiki.ClientIPFromContext(r.Context()))
	if err != nil {
		p.respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rev)
}

func (p *Plugin) handleDownload(w http.ResponseWriter, r *http.Request, a *wiki.Article, rawID, rawRev string) {
	at, ok := p.loadAttachment(w, r, a, rawID)
	if !ok {
		return
	}

	rev := at.CurrentRevision
	if rawRev != "" {
		revID, err := strconv.ParseInt(rawRev, 10, 64)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid revision id")
			return
		}
		if rev, err = p.store.GetRevision(r.Context(), revID); err != nil || rev.AttachmentID != at.ID {
			respondWithError(w, http.StatusNotFound, "Revision not found")
			return
		}
	} else if rev == nil || rev.Deleted {
		respondWithError(w, http.StatusNotFound, "Attachment not found")
		return
	}

	f, err := p.store.Open(rev)
	if err != nil {
		p.respondWithStoreError(w, err)
		return
	}
	defer func() {
		_ = f.Close()
	}()

	contentType := "application/octet-stream"
	if mt, err := mimetype.DetectReader(f); err == nil {
		contentType = mt.String()
	}
	if _, err = f.Seek(0, io.SeekStart); err != nil {
		p.respondWithStoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": at.OriginalFilename}))
	p.store.logger.Debug("Serving attachment",
		slog.Int64("attachment_id", at.ID),
		slog.Int("revision_number", rev.RevisionNumber),
	)
	http.ServeContent(w, r, at.OriginalFilename, rev.Created, f)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}
