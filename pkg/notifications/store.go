package notifications

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const schema = `
CREATE TABLE IF NOT EXISTS notifications_subscription (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    article_id INTEGER NOT NULL,
    key TEXT NOT NULL,
    UNIQUE(user_id, article_id, key)
);
CREATE INDEX IF NOT EXISTS idx_subscription_article ON notifications_subscription (article_id, key);

CREATE TABLE IF NOT EXISTS notifications_notification (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    article_id INTEGER NOT NULL,
    key TEXT NOT NULL,
    message TEXT NOT NULL,
    url TEXT NOT NULL DEFAULT '',
    is_read BOOLEAN NOT NULL DEFAULT 0,
    created TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notification_user ON notifications_notification (user_id, is_read);
`

// SetupSchema creates the notification tables if they do not exist.
func SetupSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.Exec(schema); err != nil {
		return fmt.Errorf("could not create notifications schema: %w", err)
	}
	return tx.Commit()
}

// Store persists subscriptions and notifications.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	stmtSubscribe     *sql.Stmt
	stmtUnsubscribe   *sql.Stmt
	stmtSubscribers   *sql.Stmt
	stmtSubscriptions *sql.Stmt
	stmtForUser       *sql.Stmt
	stmtUnreadForUser *sql.Stmt
}

func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger}

	queries := []struct {
		dst   **sql.Stmt
		query string
	}{
		{&s.stmtSubscribe, `INSERT OR IGNORE INTO notifications_subscription (user_id, article_id, key) VALUES (?, ?, ?);`},
		{&s.stmtUnsubscribe, `DELETE FROM notifications_subscription WHERE user_id = ? AND article_id = ? AND key = ?;`},
		{&s.stmtSubscribers, `SELECT user_id FROM notifications_subscription WHERE article_id = ? AND key = ? ORDER BY user_id;`},
		{&s.stmtSubscriptions, `SELECT id, user_id, article_id, key FROM notifications_subscription WHERE user_id = ? ORDER BY id;`},
		{&s.stmtForUser, `SELECT id, user_id, article_id, key, message, url, is_read, created
FROM notifications_notification WHERE user_id = ? ORDER BY id DESC LIMIT ?;`},
		{&s.stmtUnreadForUser, `SELECT id, user_id, article_id, key, message, url, is_read, created
FROM notifications_notification WHERE user_id = ? AND is_read = 0 ORDER BY id DESC LIMIT ?;`},
	}
	for _, q := range queries {
		stmt, err := db.Prepare(q.query)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("could not prepare statement: %w", err)
		}
		*q.dst = stmt
	}
	return s, nil
}

// Close releases the prepared statements.
func (s *Store) Close() {
	for _, stmt := range []*sql.Stmt{
		s.stmtSubscribe, s.stmtUnsubscribe, s.stmtSubscribers,
		s.stmtSubscriptions, s.stmtForUser, s.stmtUnreadForUser,
	} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
}

// Subscribe registers userID for key notifications on the article. Subscribing
// twice is not an error.
func (s *Store) Subscribe(ctx context.Context, userID, articleID int64, key string) error {
	_, err := s.stmtSubscribe.ExecContext(ctx, userID, articleID, key)
	return err
}

// Unsubscribe removes the subscription and reports whether one existed.
func (s *Store) Unsubscribe(ctx context.Context, userID, articleID int64, key string) (bool, error) {
	res, err := s.stmtUnsubscribe.ExecContext(ctx, userID, articleID, key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Subscribers lists the users subscribed to key on the article.
func (s *Store) Subscribers(ctx context.Context, articleID int64, key string) ([]int64, error) {
	rows, err := s.stmtSubscribers.QueryContext(ctx, articleID, key)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var users []int64
	for rows.Next() {
		var id int64
		if err = rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// Subscriptions lists everything userID is subscribed to.
func (s *Store) Subscriptions(ctx context.Context, userID int64) ([]Subscription, error) {
	rows, err := s.stmtSubscriptions.QueryContext(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		if err = rows.Scan(&sub.ID, &sub.UserID, &sub.ArticleID, &sub.Key); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// Notify stores one copy of n for every user in userIDs, in a single
// transaction. n.UserID is ignored.
func (s *Store) Notify(ctx context.Context, n Notification, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO notifications_notification
    (user_id, article_id, key, message, url, is_read, created) VALUES (?, ?, ?, ?, ?, 0, ?);`)
	if err != nil {
		return err
	}
	defer func(stmt *sql.Stmt) {
		_ = stmt.Close()
	}(stmt)

	if n.Created.IsZero() {
		n.Created = time.Now().UTC()
	}
	for _, uid := range userIDs {
		if _, err = stmt.ExecContext(ctx, uid, n.ArticleID, n.Key, n.Message, n.URL, n.Created); err != nil {
			return fmt.Errorf("failed to store notification for user %d: %w", uid, err)
		}
	}
	return tx.Commit()
}

// ForUser returns the newest notifications of userID.
func (s *Store) ForUser(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	stmt := s.stmtForUser
	if unreadOnly {
		stmt = s.stmtUnreadForUser
	}
	rows, err := stmt.QueryContext(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var out []Notification
	for rows.Next() {
		var n Notification
		if err = rows.Scan(&n.ID, &n.UserID, &n.ArticleID, &n.Key, &n.Message, &n.URL, &n.IsRead, &n.Created); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkRead flags the given notifications of userID as read. With no ids every
// notification of the user is marked. It returns the number of rows changed.
func (s *Store) MarkRead(ctx context.Context, userID int64, ids ...int64) (int64, error) {
	query := `UPDATE notifications_notification SET is_read = 1 WHERE user_id = ? AND is_read = 0`
	args := []any{userID}
	if len(ids) > 0 {
		query += ` AND id IN (?` + strings.Repeat(", ?", len(ids)-1) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	res, err := s.db.ExecContext(ctx, query+";", args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
