package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
)

type testServer struct {
	*Server
	dir     string
	actions chan string
	site    http.Handler
	api     http.Handler
}

// newTestServer builds a Server on a fresh database inside a temp dir, with
// its config file, templates and media kept there too. The configure funcs
// run before the server is created.
func newTestServer(t *testing.T, configure ...func(*Config)) *testServer {
	t.Helper()
	dir := t.TempDir()

	cm, err := NewConfigManager(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatalf("NewConfigManager() failed: %v", err)
	}
	cm.config.Server.DatabasePath = filepath.Join(dir, "wiki.db")
	cm.config.Server.TemplateDir = filepath.Join(dir, "templates")
	cm.config.Server.StaticDir = filepath.Join(dir, "static")
	cm.config.Attachments.MediaRoot = filepath.Join(dir, "media")
	for _, fn := range configure {
		fn(cm.config)
	}
	cm.refreshCache()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cm.SetLogger(logger)

	db, err := initDB(cm.config.Server.DatabasePath)
	if err != nil {
		t.Fatalf("initDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err = setupSchemas(db); err != nil {
		t.Fatalf("setupSchemas() failed: %v", err)
	}

	actions := make(chan string, 1)
	server, err := NewServer(cm, logger, db, actions)
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}
	t.Cleanup(server.Close)

	return &testServer{
		Server:  server,
		dir:     dir,
		actions: actions,
		site:    server.SiteHandler(),
		api:     server.APIHandler(),
	}
}

// apiRequest sends a JSON request to the API server. A nil body sends none.
func (ts *testServer) apiRequest(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				t.Fatalf("failed to marshal request body: %v", err)
			}
			reader = bytes.NewReader(data)
		}
	}
	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set(authHeader, token)
	}
	rr := httptest.NewRecorder()
	ts.api.ServeHTTP(rr, req)
	return rr
}

// siteRequest sends a request to the wiki site. Form values are posted
// url-encoded when given.
func (ts *testServer) siteRequest(t *testing.T, method, target, token, form string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if form != "" {
		reader = strings.NewReader(form)
	}
	req := httptest.NewRequest(method, target, reader)
	if form != "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if token != "" {
		req.AddCookie(&http.Cookie{Name: authCookie, Value: token})
	}
	rr := httptest.NewRecorder()
	ts.site.ServeHTTP(rr, req)
	return rr
}

// createUser creates a user through the API and returns its raw token.
func (ts *testServer) createUser(t *testing.T, adminToken string, req CreateUserRequest) (UserInfo, string) {
	t.Helper()
	rr := ts.apiRequest(t, http.MethodPost, "/api/auth/users", adminToken, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("creating user %q returned %d: %s", req.Username, rr.Code, rr.Body.String())
	}
	var resp CreateUserResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode user response: %v", err)
	}
	return resp.UserInfo, resp.RawToken
}

func decodeJSON[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return v
}
