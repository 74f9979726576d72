package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/CTAG07/wiki/pkg/attachments"
	"github.com/CTAG07/wiki/pkg/notifications"
	"github.com/CTAG07/wiki/pkg/plugins"
	"github.com/CTAG07/wiki/pkg/templating"
	"github.com/CTAG07/wiki/pkg/wiki"
)

type Server struct {
	cm              *ConfigManager
	settings        *wiki.Settings
	db              *sql.DB
	logger          *slog.Logger
	articles        *wiki.Store
	renderer        *wiki.Renderer
	registry        *plugins.Registry
	files           *attachments.Store
	notes           *notifications.Store
	dispatcher      *notifications.Dispatcher
	tm              *templating.TemplateManager
	authAPI         *AuthAPI
	articleAPI      *ArticleAPI
	searchAPI       *SearchAPI
	notificationAPI *NotificationAPI
	templateAPI     *TemplateAPI
	statsAPI        *StatsAPI
	serverAPI       *ServerAPI
	siteMux         *http.ServeMux
	apiMux          *http.ServeMux
}

func NewServer(cm *ConfigManager, logger *slog.Logger, db *sql.DB, actionChan chan string) (*Server, error) {
	config := cm.Get()

	articles, err := wiki.NewStore(db, wiki.NewPolicy(config.Wiki), logger)
	if err != nil {
		return nil, fmt.Errorf("error creating article store: %w", err)
	}
	renderer := wiki.NewRenderer(config.Wiki)

	files, err := attachments.NewStore(db, config.Attachments, articles, logger)
	if err != nil {
		articles.Close()
		return nil, fmt.Errorf("error creating attachment store: %w", err)
	}

	notes, err := notifications.NewStore(db, logger)
	if err != nil {
		files.Close()
		articles.Close()
		return nil, fmt.Errorf("error creating notification store: %w", err)
	}

	// plugin initialization
	registry := plugins.NewRegistry(logger)
	registry.MustRegister(articleNotifications{})
	registry.MustRegister(attachments.NewPlugin(files))
	renderer.AddExtensions(registry.MarkdownExtensions()...)

	dispatcher := notifications.NewDispatcher(registry, notes, logger)
	files.SetEmitter(dispatcher)

	tm, err := templating.NewTemplateManager(logger, templating.Services{
		Articles: articles,
		Renderer: renderer,
		Plugins:  registry,
		Settings: config.Wiki,
	}, config.Templates, config.Server.TemplateDir)
	if err != nil {
		notes.Close()
		files.Close()
		articles.Close()
		return nil, fmt.Errorf("failed to create template manager: %w", err)
	}
	cm.SetTemplateManager(tm)

	server := &Server{
		cm:         cm,
		settings:   config.Wiki,
		db:         db,
		logger:     logger,
		articles:   articles,
		renderer:   renderer,
		registry:   registry,
		files:      files,
		notes:      notes,
		dispatcher: dispatcher,
		tm:         tm,
		siteMux:    http.NewServeMux(),
		apiMux:     http.NewServeMux(),
	}

	// api initialization
	server.authAPI = NewAuthAPI(db, logger)
	server.articleAPI = NewArticleAPI(articles, renderer, dispatcher, logger)
	server.searchAPI = NewSearchAPI(articles, files, cm, logger)
	server.notificationAPI = NewNotificationAPI(notes, articles, logger)
	server.templateAPI = NewTemplateAPI(tm, articles, logger)
	server.statsAPI = NewStatsAPI(db, articles, logger)
	server.serverAPI = NewServerAPI(cm, actionChan, logger)

	apiMux := http.NewServeMux()
	server.authAPI.RegisterRoutes(apiMux)
	server.articleAPI.RegisterRoutes(apiMux)
	server.searchAPI.RegisterRoutes(apiMux)
	server.notificationAPI.RegisterRoutes(apiMux)
	server.templateAPI.RegisterRoutes(apiMux)
	server.statsAPI.RegisterRoutes(apiMux)
	server.serverAPI.RegisterRoutes(apiMux)

	// Make sure api functions must pass through authentication first
	authedAPI := server.authAPI.Authenticate(apiMux)
	// ... except for the health check, which is unauthed so something like docker can use it
	server.apiMux.HandleFunc("/api/health", server.serverAPI.handleHealthCheck)
	server.apiMux.Handle("/api/", server.withClientIP(authedAPI))

	server.registerSiteRoutes()

	return server, nil
}

// SiteHandler is the handler for the public wiki.
func (s *Server) SiteHandler() http.Handler {
	return s.withClientIP(s.authAPI.Identify(s.withStats(s.siteMux)))
}

// APIHandler is the handler for the management API.
func (s *Server) APIHandler() http.Handler {
	return s.apiMux
}

// Close releases the prepared statements of every store. The database handle
// is owned by the caller.
func (s *Server) Close() {
	s.notes.Close()
	s.files.Close()
	s.articles.Close()
}

// withClientIP records the client address on the request context, where the
// stores pick it up for revision logs.
func (s *Server) withClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := wiki.WithClientIP(r.Context(), s.getClientIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) withStats(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/static/") {
			if err := s.statsAPI.LogRequest(r); err != nil {
				s.logger.Warn("Failed to log request stats", "error", err)
			}
		}
		next.ServeHTTP(w, r)
	})
}

// getClientIP returns the address of the client. Forwarding headers are only
// believed when the direct peer is a trusted proxy.
func (s *Server) getClientIP(r *http.Request) string {
	remoteIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// If splitting fails (e.g., no port), use the address as is.
		remoteIP = r.RemoteAddr
	}
	if !s.cm.IsTrusted(remoteIP) {
		return remoteIP
	}

	// The X-Real-Ip header contains the forwarded IP in some cases (like from nginx)
	if realIP := r.Header.Get("X-Real-Ip"); realIP != "" {
		return realIP
	}

	// The first IP in the X-Forwarded-For list is the original client IP.
	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		ips := strings.Split(forwardedFor, ",")
		return strings.TrimSpace(ips[0])
	}
	return remoteIP
}
