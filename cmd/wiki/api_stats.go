package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/CTAG07/wiki/pkg/wiki"
	"github.com/dustin/go-humanize"
)

const statsSchema = `
CREATE TABLE IF NOT EXISTS stats_ip (
    ip_address    TEXT PRIMARY KEY,
    total_hits    INTEGER NOT NULL DEFAULT 1,
    first_seen    DATETIME NOT NULL,
    last_seen     DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS stats_user_agent (
    user_agent    TEXT PRIMARY KEY,
    total_hits    INTEGER NOT NULL DEFAULT 1,
    first_seen    DATETIME NOT NULL,
    last_seen     DATETIME NOT NULL
);
`

const topStatsLimit = 100

// GlobalStatsSummary provides a high-level overview of all collected stats.
type GlobalStatsSummary struct {
	TotalRequests    int64 `json:"total_requests"`
	UniqueIPs        int64 `json:"unique_ips"`
	UniqueUserAgents int64 `json:"unique_user_agents"`
	Articles         int64 `json:"articles"`
	Revisions        int64 `json:"revisions"`
	Attachments      int64 `json:"attachments"`
	Users            int64 `json:"users"`
}

// HitCount is one row of a top list.
type HitCount struct {
	Value     string    `json:"value"`
	TotalHits int64     `json:"total_hits"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	// LastSeenAgo is LastSeen relative to now, e.g. "3 minutes ago".
	LastSeenAgo string `json:"last_seen_ago"`
}

// StatsAPI holds the dependencies for the statistics handlers.
type StatsAPI struct {
	db       *sql.DB
	articles *wiki.Store
	logger   *slog.Logger
}

func setupStatsSchema(db *sql.DB) error {
	_, err := db.Exec(statsSchema)
	return err
}

func NewStatsAPI(db *sql.DB, articles *wiki.Store, logger *slog.Logger) *StatsAPI {
	return &StatsAPI{
		db:       db,
		articles: articles,
		logger:   logger,
	}
}

func (s *StatsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/stats/summary", s.handleSummary)
	mux.HandleFunc("/api/stats/top_ips", s.handleTop("stats_ip", "ip_address"))
	mux.HandleFunc("/api/stats/top_user_agents", s.handleTop("stats_user_agent", "user_agent"))
}

// LogRequest counts a page hit for the client address and user agent in a
// single transaction.
func (s *StatsAPI) LogRequest(r *http.Request) error {
	ip := wiki.ClientIPFromContext(r.Context())
	if ip == "" {
		ip = r.RemoteAddr
	}
	ua := r.UserAgent()
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(r.Context(), nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	_, err = tx.ExecContext(r.Context(), `
        INSERT INTO stats_ip (ip_address, first_seen, last_seen) VALUES (?, ?, ?)
        ON CONFLICT(ip_address) DO UPDATE SET total_hits = total_hits + 1, last_seen = ?
    `, ip, now, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert stats_ip: %w", err)
	}

	_, err = tx.ExecContext(r.Context(), `
        INSERT INTO stats_user_agent (user_agent, first_seen, last_seen) VALUES (?, ?, ?)
        ON CONFLICT(user_agent) DO UPDATE SET total_hits = total_hits + 1, last_seen = ?
    `, ua, now, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert stats_user_agent: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit stats transaction: %w", err)
	}
	return nil
}

func (s *StatsAPI) handleSummary(w http.ResponseWriter, r *http.Request) {
	if !hasPerm(r, permStatsRead) {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires '"+permStatsRead+"' permission")
		return
	}

	var summary GlobalStatsSummary
	// Calculate total requests by summing all hits from the IP stats table.
	_ = s.db.QueryRowContext(r.Context(), "SELECT COALESCE(SUM(total_hits), 0) FROM stats_ip").Scan(&summary.TotalRequests)
	_ = s.db.QueryRowContext(r.Context(), "SELECT COUNT(*) FROM stats_ip").Scan(&summary.UniqueIPs)
	_ = s.db.QueryRowContext(r.Context(), "SELECT COUNT(*) FROM stats_user_agent").Scan(&summary.UniqueUserAgents)
	_ = s.db.QueryRowContext(r.Context(), "SELECT COUNT(*) FROM attachments_attachment").Scan(&summary.Attachments)
	_ = s.db.QueryRowContext(r.Context(), "SELECT COUNT(*) FROM wiki_user").Scan(&summary.Users)

	articleStats, err := s.articles.Stats(r.Context())
	if err != nil {
		s.logger.Error("Failed to count articles", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database query failed")
		return
	}
	summary.Articles = articleStats.Articles
	summary.Revisions = articleStats.Revisions

	respondWithJSON(w, http.StatusOK, summary)
}

// handleTop lists the most frequent values of a stats table. The table and
// column names are fixed at registration.
func (s *StatsAPI) handleTop(table, column string) http.HandlerFunc {
	query := fmt.Sprintf("SELECT %s, total_hits, first_seen, last_seen FROM %s ORDER BY total_hits DESC LIMIT %d",
		column, table, topStatsLimit)

	return func(w http.ResponseWriter, r *http.Request) {
		if !hasPerm(r, permStatsRead) {
			respondWithError(w, http.StatusForbidden, "Forbidden: requires '"+permStatsRead+"' permission")
			return
		}
		rows, err := s.db.QueryContext(r.Context(), query)
		if err != nil {
			s.logger.Error("Failed to query top stats", "table", table, "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
			return
		}
		defer func(rows *sql.Rows) {
			_ = rows.Close()
		}(rows)

		results := []HitCount{}
		for rows.Next() {
			var hc HitCount
			if err = rows.Scan(&hc.Value, &hc.TotalHits, &hc.FirstSeen, &hc.LastSeen); err != nil {
				s.logger.Error("Failed to scan top stats", "table", table, "error", err)
				continue
			}
			hc.LastSeenAgo = humanize.Time(hc.LastSeen)
			results = append(results, hc)
		}
		respondWithJSON(w, http.StatusOK, results)
	}
}
