package main

import (
	"bytes"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/CTAG07/wiki/pkg/templating"
	"github.com/CTAG07/wiki/pkg/wiki"
)

const (
	messagesCookie = "wiki_messages"
	indexLimit     = 100
)

// searchResult is one row of the search page.
type searchResult struct {
	Article *wiki.Article
	Content any
}

func (s *Server) registerSiteRoutes() {
	config := s.cm.Get()

	s.siteMux.HandleFunc("/", s.handleIndex)
	s.siteMux.HandleFunc("/wiki/", s.handleWiki)
	s.siteMux.HandleFunc("/_create/", s.handleCreate)
	s.siteMux.HandleFunc("/search/", s.handleSearch)
	s.siteMux.HandleFunc("/_accounts/login/", s.handleLogin)
	s.siteMux.HandleFunc("/_accounts/logout/", s.handleLogout)

	staticPrefix := s.settings.StaticURL
	if !strings.HasPrefix(staticPrefix, "/") || !strings.HasSuffix(staticPrefix, "/") {
		// An absolute URL means a CDN serves the assets.
		return
	}
	staticFs := http.FileServer(http.Dir(config.Server.StaticDir))
	s.siteMux.Handle(staticPrefix, http.StripPrefix(staticPrefix, staticFs))
}

// renderPage executes a page template with the values every page needs and
// writes it out. Nothing is written if the template fails.
func (s *Server) renderPage(w http.ResponseWriter, r *http.Request, status int, name string, data templating.Context) {
	if data == nil {
		data = templating.Context{}
	}
	data["request"] = r
	data["user"] = wiki.UserFromContext(r.Context())
	if _, ok := data["messages"]; !ok {
		data["messages"] = s.popMessages(w, r)
	}

	var buf bytes.Buffer
	if err := s.tm.Execute(&buf, name, data); err != nil {
		s.logger.Error("Failed to execute template", "template", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	s.renderPage(w, r, status, "wiki/error.html", templating.Context{
		"title":   http.StatusText(status),
		"status":  status,
		"message": message,
	})
}

// denied sends anonymous users to the login page and tells everyone else no.
func (s *Server) denied(w http.ResponseWriter, r *http.Request) {
	if wiki.UserFromContext(r.Context()).IsAnonymous() {
		target := s.settings.LoginURL + "?next=" + url.QueryEscape(r.URL.RequestURI())
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}
	s.renderError(w, r, http.StatusForbidden, "You do not have permission to do that.")
}

// flash stores a message that is shown on the next page the client loads.
func (s *Server) flash(w http.ResponseWriter, text string) {
	http.SetCookie(w, &http.Cookie{
		Name:     messagesCookie,
		Value:    url.QueryEscape(text),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) popMessages(w http.ResponseWriter, r *http.Request) []*wiki.Message {
	c, err := r.Cookie(messagesCookie)
	if err != nil {
		return []*wiki.Message{}
	}
	http.SetCookie(w, &http.Cookie{Name: messagesCookie, Path: "/", MaxAge: -1})
	text, err := url.QueryUnescape(c.Value)
	if err != nil || text == "" {
		return []*wiki.Message{}
	}
	return []*wiki.Message{{Level: wiki.LevelSuccess, Text: text}}
}

func (s *Server) canCreate(user *wiki.User) bool {
	return s.settings.AnonymousWrite || !user.IsAnonymous()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.renderError(w, r, http.StatusNotFound, "The page you were looking for does not exist.")
		return
	}
	user := wiki.UserFromContext(r.Context())

	all, err := s.articles.ListArticles(r.Context(), indexLimit, 0)
	if err != nil {
		s.logger.Error("Failed to list articles", "error", err)
		s.renderError(w, r, http.StatusInternalServerError, "Failed to load articles.")
		return
	}
	if len(all) == 0 && s.canCreate(user) {
		http.Redirect(w, r, "/_create/", http.StatusSeeOther)
		return
	}

	articles := make([]*wiki.Article, 0, len(all))
	for _, a := range all {
		if a.CanRead(user) && !a.IsDeleted() {
			articles = append(articles, a)
		}
	}
	s.renderPage(w, r, http.StatusOK, "wiki/index.html", templating.Context{
		"title":      "Articles",
		"articles":   articles,
		"can_create": s.canCreate(user),
	})
}

// handleWiki dispatches everything below /wiki/<id>/.
func (s *Server) handleWiki(w http.ResponseWriter, r *http.Request) {
	trimmedPath := strings.TrimPrefix(r.URL.Path, "/wiki/")
	idStr, sub, _ := strings.Cut(trimmedPath, "/")

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		s.renderError(w, r, http.StatusNotFound, "The page you were looking for does not exist.")
		return
	}

	article, err := s.articles.GetArticle(r.Context(), id)
	if errors.Is(err, wiki.ErrNotFound) {
		s.renderError(w, r, http.StatusNotFound, "This article does not exist.")
		return
	}
	if err != nil {
		s.logger.Error("Failed to load article", "article_id", id, "error", err)
		s.renderError(w, r, http.StatusInternalServerError, "Failed to load the article.")
		return
	}

	user := wiki.UserFromContext(r.Context())
	if !article.CanRead(user) {
		s.denied(w, r)
		return
	}
	if article.IsDeleted() && !article.CanModerate(user) {
		s.renderError(w, r, http.StatusNotFound, "This article has been deleted.")
		return
	}

	switch {
	case sub == "":
		s.handleArticle(w, r, article)
	case sub == "edit/":
		s.handleEdit(w, r, article)
	case sub == "preview/":
		s.handlePreview(w, r, article)
	case strings.HasPrefix(sub, "plugin/"):
		slug, subpath, _ := strings.Cut(strings.TrimPrefix(sub, "plugin/"), "/")
		viewer, ok := s.registry.ArticleViewer(slug)
		if !ok {
			s.renderError(w, r, http.StatusNotFound, "No such plugin.")
			return
		}
		viewer.ServeArticle(w, r, article, subpath)
	default:
		s.renderError(w, r, http.StatusNotFound, "The page you were looking for does not exist.")
	}
}

func (s *Server) handleArticle(w http.ResponseWriter, r *http.Request, article *wiki.Article) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		s.renderError(w, r, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.renderPage(w, r, http.StatusOK, "wiki/article.html", templating.Context{
		"title":    article.String(),
		"article":  article,
		"tabs":     s.registry.ArticleTabs(),
		"sidebars": s.registry.Sidebars(),
	})
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request, article *wiki.Article) {
	user := wiki.UserFromContext(r.Context())
	if !article.CanWrite(user) {
		s.denied(w, r)
		return
	}
	if article.IsLocked() && !article.CanModerate(user) {
		s.renderError(w, r, http.StatusForbidden, "This article is locked for editing.")
		return
	}

	form := wiki.NewEditForm(article.CurrentRevision)
	data := templating.Context{
		"title":   "Edit: " + article.String(),
		"article": article,
		"form":    form,
	}

	switch r.Method {
	case http.MethodGet:
		s.renderPage(w, r, http.StatusOK, "wiki/edit.html", data)
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			s.renderError(w, r, http.StatusBadRequest, "The submitted form could not be read.")
			return
		}
		form.Bind(r.PostForm)
		if !form.IsValid() {
			s.renderPage(w, r, http.StatusOK, "wiki/edit.html", data)
			return
		}

		rev := form.Revision()
		rev.IPAddress = wiki.ClientIPFromContext(r.Context())
		if !user.IsAnonymous() {
			rev.UserID = user.ID
		}
		if err := s.articles.AddRevision(r.Context(), article.ID, rev); err != nil {
			s.logger.Error("Failed to save revision", "article_id", article.ID, "error", err)
			s.renderError(w, r, http.StatusInternalServerError, "Failed to save the article.")
			return
		}
		s.renderer.Invalidate(article.ID)
		if _, err := s.dispatcher.Emit(r.Context(), revisionModel, rev, true); err != nil {
			s.logger.Warn("Failed to send edit notifications", "article_id", article.ID, "error", err)
		}

		s.flash(w, "A new revision of the article was successfully added.")
		http.Redirect(w, r, "/wiki/"+strconv.FormatInt(article.ID, 10)+"/", http.StatusSeeOther)
	default:
		w.Header().Set("Allow", "GET, POST")
		s.renderError(w, r, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request, article *wiki.Article) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		s.renderError(w, r, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if err := r.ParseForm(); err != nil {
		s.renderError(w, r, http.StatusBadRequest, "The submitted form could not be read.")
		return
	}

	title := strings.TrimSpace(r.PostForm.Get("title"))
	if title == "" {
		title = article.String()
	}
	s.renderPage(w, r, http.StatusOK, "wiki/preview.html", templating.Context{
		"title":           title,
		"article":         article,
		"preview_content": r.PostForm.Get("content"),
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	user := wiki.UserFromContext(r.Context())
	if !s.canCreate(user) {
		s.denied(w, r)
		return
	}

	form := wiki.NewCreateRootForm()
	data := templating.Context{"title": "Create a new article", "form": form}

	switch r.Method {
	case http.MethodGet:
		s.renderPage(w, r, http.StatusOK, "wiki/create_root.html", data)
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			s.renderError(w, r, http.StatusBadRequest, "The submitted form could not be read.")
			return
		}
		form.Bind(r.PostForm)
		if !form.IsValid() {
			s.renderPage(w, r, http.StatusOK, "wiki/create_root.html", data)
			return
		}

		article := wiki.NewArticle()
		rev := form.Revision()
		rev.IPAddress = wiki.ClientIPFromContext(r.Context())
		if !user.IsAnonymous() {
			article.OwnerID = user.ID
			rev.UserID = user.ID
		}
		if err := s.articles.CreateArticle(r.Context(), article, rev); err != nil {
			s.logger.Error("Failed to create article", "error", err)
			s.renderError(w, r, http.StatusInternalServerError, "Failed to create the article.")
			return
		}

		s.flash(w, "The article was created.")
		http.Redirect(w, r, "/wiki/"+strconv.FormatInt(article.ID, 10)+"/", http.StatusSeeOther)
	default:
		w.Header().Set("Allow", "GET, POST")
		s.renderError(w, r, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	user := wiki.UserFromContext(r.Context())

	results := []searchResult{}
	if query != "" {
		found, err := s.articles.Search(r.Context(), query, s.cm.Get().Server.SearchLimit)
		if err != nil {
			s.logger.Error("Search failed", "query", query, "error", err)
			s.renderError(w, r, http.StatusInternalServerError, "The search failed.")
			return
		}
		for _, a := range found {
			if !a.CanRead(user) {
				continue
			}
			results = append(results, searchResult{
				Article: a,
				Content: s.renderer.CachedContent(r.Context(), a, user),
			})
		}
	}

	s.renderPage(w, r, http.StatusOK, "wiki/search.html", templating.Context{
		"title":   "Search",
		"query":   query,
		"results": results,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	next := safeRedirect(r.FormValue("next"))
	data := templating.Context{"title": "Log in", "next": next}

	switch r.Method {
	case http.MethodGet:
		s.renderPage(w, r, http.StatusOK, "wiki/login.html", data)
	case http.MethodPost:
		token := strings.TrimSpace(r.PostFormValue("token"))
		user, err := s.authAPI.userByToken(r.Context(), token)
		if err != nil {
			s.logger.Error("Failed to check login token", "error", err)
			s.renderError(w, r, http.StatusInternalServerError, "Login failed.")
			return
		}
		if user == nil {
			data["messages"] = []*wiki.Message{{Level: wiki.LevelError, Text: "That token is not valid."}}
			s.renderPage(w, r, http.StatusUnauthorized, "wiki/login.html", data)
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     authCookie,
			Value:    token,
			Path:     "/",
			Expires:  time.Now().Add(30 * 24 * time.Hour),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		s.logger.Info("User logged in", "user_id", user.ID, "remote_addr", wiki.ClientIPFromContext(r.Context()))
		s.flash(w, "You are now logged in as "+user.Username+".")
		http.Redirect(w, r, next, http.StatusSeeOther)
	default:
		w.Header().Set("Allow", "GET, POST")
		s.renderError(w, r, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: authCookie, Path: "/", MaxAge: -1})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// safeRedirect only allows redirects to paths on this site.
func safeRedirect(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	return next
}
