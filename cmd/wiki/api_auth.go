package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/CTAG07/wiki/pkg/wiki"
)

const authSchema = `
CREATE TABLE IF NOT EXISTS wiki_user (
    id            INTEGER   PRIMARY KEY,
    username      TEXT      NOT NULL UNIQUE,
    token_hash    TEXT      NOT NULL UNIQUE,
    is_superuser  BOOLEAN   NOT NULL DEFAULT 0,
    group_ids     TEXT      NOT NULL DEFAULT '',
    perms         TEXT      NOT NULL DEFAULT '',
    created       DATETIME  NOT NULL
);
`

// Permissions checked by the API on top of the wiki's own.
const (
	permAuthManage     = "auth.manage"
	permServerConfig   = "server.config"
	permServerControl  = "server.control"
	permStatsRead      = "stats.read"
	permTemplatesRead  = "templates.read"
	permTemplatesWrite = "templates.write"
)

const (
	authHeader = "wiki-auth"
	authCookie = "wiki_auth"
)

type contextKey string

// contextKeyBootstrap marks API requests made while no user exists yet.
const contextKeyBootstrap = contextKey("bootstrap")

// AuthAPI holds the dependencies for the authentication API handlers.
type AuthAPI struct {
	db     *sql.DB
	logger *slog.Logger
}

func setupAuthSchema(db *sql.DB) error {
	if _, err := db.Exec(authSchema); err != nil {
		return err
	}
	return nil
}

func NewAuthAPI(db *sql.DB, logger *slog.Logger) *AuthAPI {
	return &AuthAPI{
		db:     db,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/auth endpoints on a standard http.ServeMux.
func (a *AuthAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/me", a.handleCheckMe)
	mux.HandleFunc("/api/auth/users", a.handleUsers)
	mux.HandleFunc("/api/auth/users/", a.handleUserByID)
}

// UserInfo is the structure returned when listing users.
type UserInfo struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	IsSuperuser bool      `json:"is_superuser"`
	Groups      []int64   `json:"groups"`
	Perms       []string  `json:"perms"`
	Created     time.Time `json:"created"`
}

// CreateUserRequest is the expected JSON body for creating a new user.
type CreateUserRequest struct {
	Username    string   `json:"username"`
	IsSuperuser bool     `json:"is_superuser"`
	Groups      []int64  `json:"groups"`
	Perms       []string `json:"perms"`
}

// CreateUserResponse is the JSON response after creating a user. The raw
// token is only ever shown here.
type CreateUserResponse struct {
	UserInfo
	RawToken string `json:"raw_token"`
}

func (a *AuthAPI) countUsers(ctx context.Context) (int, error) {
	var n int
	err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM wiki_user").Scan(&n)
	return n, err
}

// userByToken returns the user owning the raw token, or nil if there is none.
func (a *AuthAPI) userByToken(ctx context.Context, token string) (*wiki.User, error) {
	if token == "" {
		return nil, nil
	}
	row := a.db.QueryRowContext(ctx,
		`SELECT id, username, is_superuser, group_ids, perms, created FROM wiki_user WHERE token_hash = ?`, hashToken(token))
	info, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &wiki.User{
		ID:          info.ID,
		Username:    info.Username,
		IsSuperuser: info.IsSuperuser,
		Groups:      info.Groups,
		Perms:       info.Perms,
	}, nil
}

func scanUser(row interface{ Scan(...any) error }) (UserInfo, error) {
	var info UserInfo
	var groups, perms string
	if err := row.Scan(&info.ID, &info.Username, &info.IsSuperuser, &groups, &perms, &info.Created); err != nil {
		return info, err
	}
	info.Perms = strings.Fields(perms)
	for _, g := range strings.Fields(groups) {
		if id, err := strconv.ParseInt(g, 10, 64); err == nil {
			info.Groups = append(info.Groups, id)
		}
	}
	return info, nil
}

// requestToken reads the token from the auth header, falling back to the
// login cookie set by the site.
func requestToken(r *http.Request) string {
	if token := r.Header.Get(authHeader); token != "" {
		return token
	}
	if c, err := r.Cookie(authCookie); err == nil {
		return c.Value
	}
	return ""
}

// Identify attaches the requesting user to the context. Requests without a
// valid token are served as anonymous.
func (a *AuthAPI) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := a.userByToken(r.Context(), requestToken(r))
		if err != nil {
			a.logger.Error("Identify failed to look up token", "error", err)
		}
		next.ServeHTTP(w, r.WithContext(wiki.WithUser(r.Context(), user)))
	})
}

// Authenticate is the API's auth middleware. It requires a valid token in the
// "wiki-auth" header once at least one user exists. Before that, the API is
// open so the first user can be created.
func (a *AuthAPI) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userCount, err := a.countUsers(r.Context())
		if err != nil {
			a.logger.Error("Authenticate failed to count users", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		if userCount == 0 {
			ctx := context.WithValue(r.Context(), contextKeyBootstrap, true)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		token := r.Header.Get(authHeader)
		if token == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		user, err := a.userByToken(r.Context(), token)
		if err != nil {
			a.logger.Error("Authenticate failed to query token", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if user == nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(wiki.WithUser(r.Context(), user)))
	})
}

func (a *AuthAPI) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listUsers(w, r)
	case http.MethodPost:
		a.createUser(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (a *AuthAPI) handleUserByID(w http.ResponseWriter, r *http.Request) {
	trimmedPath := strings.TrimPrefix(r.URL.Path, "/api/auth/users/")
	idStr := strings.TrimSuffix(trimmedPath, "/")

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid user ID format in URL")
		return
	}

	if r.Method == http.MethodDelete {
		a.deleteUser(w, r, id)
	} else {
		w.Header().Set("Allow", "DELETE")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed for this user resource")
	}
}

func (a *AuthAPI) handleCheckMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if isBootstrap(r) {
		respondWithJSON(w, http.StatusOK, map[string]any{"bootstrap": true})
		return
	}
	user := wiki.UserFromContext(r.Context())
	if user == nil {
		respondWithError(w, http.StatusUnauthorized, "Invalid or missing token")
		return
	}
	respondWithJSON(w, http.StatusOK, UserInfo{
		ID:          user.ID,
		Username:    user.Username,
		IsSuperuser: user.IsSuperuser,
		Groups:      user.Groups,
		Perms:       user.Perms,
	})
}

func (a *AuthAPI) listUsers(w http.ResponseWriter, r *http.Request) {
	if !hasPerm(r, permAuthManage) {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires '"+permAuthManage+"' permission")
		return
	}

	rows, err := a.db.QueryContext(r.Context(),
		`SELECT id, username, is_superuser, group_ids, perms, created FROM wiki_user ORDER BY id`)
	if err != nil {
		a.logger.Error("Failed to query users", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database query failed")
		return
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	users := []UserInfo{}
	for rows.Next() {
		info, err := scanUser(rows)
		if err != nil {
			a.logger.Error("Failed to scan user row", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to process database results")
			return
		}
		users = append(users, info)
	}
	respondWithJSON(w, http.StatusOK, users)
}

func (a *AuthAPI) createUser(w http.ResponseWriter, r *http.Request) {
	if !hasPerm(r, permAuthManage) {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires '"+permAuthManage+"' permission")
		return
	}

	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		respondWithError(w, http.StatusBadRequest, "A username is required")
		return
	}

	rawToken, err := generateToken()
	if err != nil {
		a.logger.Error("Failed to generate new token", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Token generation failed")
		return
	}

	// The first user is always a superuser, so nobody can lock themselves out.
	userCount, _ := a.countUsers(r.Context())
	if userCount == 0 {
		req.IsSuperuser = true
	}

	groups := make([]string, len(req.Groups))
	for i, g := range req.Groups {
		groups[i] = strconv.FormatInt(g, 10)
	}
	now := time.Now().UTC()

	info := UserInfo{
		Username:    req.Username,
		IsSuperuser: req.IsSuperuser,
		Groups:      req.Groups,
		Perms:       req.Perms,
		Created:     now,
	}
	err = a.db.QueryRowContext(r.Context(),
		`INSERT INTO wiki_user (username, token_hash, is_superuser, group_ids, perms, created)
VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		req.Username, hashToken(rawToken), req.IsSuperuser, strings.Join(groups, " "), strings.Join(req.Perms, " "), now).Scan(&info.ID)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			respondWithError(w, http.StatusConflict, "Username already taken")
			return
		}
		a.logger.Error("Failed to insert new user", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to save new user")
		return
	}

	a.logger.Info("User created", slog.Int64("user_id", info.ID), slog.String("username", info.Username))
	respondWithJSON(w, http.StatusCreated, CreateUserResponse{UserInfo: info, RawToken: rawToken})
}

func (a *AuthAPI) deleteUser(w http.ResponseWriter, r *http.Request, id int64) {
	if !hasPerm(r, permAuthManage) {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires '"+permAuthManage+"' permission")
		return
	}

	if id == 1 {
		respondWithError(w, http.StatusBadRequest, "Cannot delete the first superuser (ID 1)")
		return
	}

	res, err := a.db.ExecContext(r.Context(), "DELETE FROM wiki_user WHERE id = ?", id)
	if err != nil {
		a.logger.Error("Failed to delete user", "id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to delete user")
		return
	}

	if rowsAffected, _ := res.RowsAffected(); rowsAffected == 0 {
		respondWithError(w, http.StatusNotFound, "User not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func isBootstrap(r *http.Request) bool {
	b, _ := r.Context().Value(contextKeyBootstrap).(bool)
	return b
}

// hasPerm checks whether the requesting user holds perm. Every permission is
// granted while the API is in bootstrap mode.
func hasPerm(r *http.Request, perm string) bool {
	if isBootstrap(r) {
		return true
	}
	return wiki.UserFromContext(r.Context()).HasPerm(perm)
}

func generateToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return "wiki_" + hex.EncodeToString(bytes), nil
}

func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		err := json.NewEncoder(w).Encode(payload)
		if err != nil {
			fmt.Printf("ERROR: Failed to encode JSON response: %v\n", err)
		}
	}
}
