package wiki

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("wiki: not found")

// SetupSchema creates the article tables. It is idempotent and safe to call on
// an already-initialized database.
func SetupSchema(db *sql.DB) error {

	const (
		schemaArticles = `
CREATE TABLE IF NOT EXISTS wiki_article (
    id                  INTEGER PRIMARY KEY,
    current_revision_id INTEGER,
    owner_id            INTEGER,
    group_id            INTEGER,
    group_read          BOOLEAN NOT NULL DEFAULT 1,
    group_write         BOOLEAN NOT NULL DEFAULT 1,
    other_read          BOOLEAN NOT NULL DEFAULT 1,
    other_write         BOOLEAN NOT NULL DEFAULT 1,
    created             DATETIME NOT NULL,
    modified            DATETIME NOT NULL
);
`
		schemaRevisions = `
CREATE TABLE IF NOT EXISTS wiki_article_revision (
    id                   INTEGER PRIMARY KEY,
    article_id           INTEGER NOT NULL REFERENCES wiki_article(id) ON DELETE CASCADE,
    revision_number      INTEGER NOT NULL,
    title                TEXT    NOT NULL,
    content              TEXT    NOT NULL DEFAULT '',
    user_message         TEXT    NOT NULL DEFAULT '',
    automatic_log        TEXT    NOT NULL DEFAULT '',
    ip_address           TEXT    NOT NULL DEFAULT '',
    user_id              INTEGER,
    previous_revision_id INTEGER,
    deleted              BOOLEAN NOT NULL DEFAULT 0,
    locked               BOOLEAN NOT NULL DEFAULT 0,
    created              DATETIME NOT NULL,
    UNIQUE (article_id, revision_number)
);
`
		schemaForObject = `
CREATE TABLE IF NOT EXISTS wiki_article_for_object (
    id           INTEGER PRIMARY KEY,
    article_id   INTEGER NOT NULL REFERENCES wiki_article(id) ON DELETE CASCADE,
    content_type TEXT    NOT NULL,
    object_id    INTEGER NOT NULL,
    is_mptt      BOOLEAN NOT NULL DEFAULT 0,
    UNIQUE (content_type, object_id)
);
`
	)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	for _, schema := range []string{schemaArticles, schemaRevisions, schemaForObject} {
		if _, err = tx.Exec(schema); err != nil {
			return fmt.Errorf("could not create schema: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	return nil
}

const articleColumns = `
    a.id, a.owner_id, a.group_id, a.group_read, a.group_write, a.other_read, a.other_write, a.created, a.modified,
    r.id, r.revision_number, r.title, r.content, r.user_message, r.automatic_log, r.ip_address,
    r.user_id, r.previous_revision_id, r.deleted, r.locked, r.created`

const articleFrom = `
FROM wiki_article a
LEFT JOIN wiki_article_revision r ON r.id = a.current_revision_id`

// Store is the database-backed repository for articles. It holds prepared
// statements for the hot paths; call Close when done with it.
type Store struct {
	db     *sql.DB
	policy *Policy
	logger *slog.Logger

	stmtGetArticle      *sql.Stmt
	stmtListArticles    *sql.Stmt
	stmtGetRevision     *sql.Stmt
	stmtListRevisions   *sql.Stmt
	stmtGetForObject    *sql.Stmt
	stmtInsertForObject *sql.Stmt
	stmtCountArticles   *sql.Stmt
	stmtCountRevisions  *sql.Stmt
	stmtSearchArticles  *sql.Stmt
}

// NewStore prepares all statements against db. The policy is attached to every
// article the store returns; a nil policy falls back to the defaults.
func NewStore(db *sql.DB, policy *Policy, logger *slog.Logger) (*Store, error) {
	if policy == nil {
		policy = defaultPolicy
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, policy: policy, logger: logger}

	prepare := func(dst **sql.Stmt, query string) error {
		stmt, err := db.Prepare(query)
		if err != nil {
			return fmt.Errorf("could not prepare statement: %w", err)
		}
		*dst = stmt
		return nil
	}

	queries := []struct {
		dst   **sql.Stmt
		query string
	}{
		{&s.stmtGetArticle, `SELECT` + articleColumns + articleFrom + ` WHERE a.id = ?;`},
		{&s.stmtListArticles, `SELECT` + articleColumns + articleFrom + ` ORDER BY a.id LIMIT ? OFFSET ?;`},
		{&s.stmtGetRevision, `SELECT id, article_id, revision_number, title, content, user_message, automatic_log,
    ip_address, user_id, previous_revision_id, deleted, locked, created
FROM wiki_article_revision WHERE id = ?;`},
		{&s.stmtListRevisions, `SELECT id, article_id, revision_number, title, content, user_message, automatic_log,
    ip_address, user_id, previous_revision_id, deleted, locked, created
FROM wiki_article_revision WHERE article_id = ? ORDER BY revision_number DESC;`},
		{&s.stmtGetForObject, `SELECT article_id FROM wiki_article_for_object WHERE content_type = ? AND object_id = ?;`},
		{&s.stmtInsertForObject, `INSERT INTO wiki_article_for_object (article_id, content_type, object_id, is_mptt) VALUES (?, ?, ?, ?);`},
		{&s.stmtCountArticles, `SELECT COUNT(*) FROM wiki_article;`},
		{&s.stmtCountRevisions, `SELECT COUNT(*) FROM wiki_article_revision;`},
		{&s.stmtSearchArticles, `SELECT` + articleColumns + articleFrom + `
WHERE r.deleted = 0 AND (r.title LIKE ? ESCAPE '\' OR r.content LIKE ? ESCAPE '\')
ORDER BY r.title LIMIT ?;`},
	}
	for _, q := range queries {
		if err := prepare(q.dst, q.query); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close releases the prepared statements. The database itself is left open.
func (s *Store) Close() {
	for _, stmt := range []*sql.Stmt{
		s.stmtGetArticle, s.stmtListArticles, s.stmtGetRevision, s.stmtListRevisions,
		s.stmtGetForObject, s.stmtInsertForObject, s.stmtCountArticles, s.stmtCountRevisions,
		s.stmtSearchArticles,
	} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
}

// DB returns the underlying database handle, for plugins that share it.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Policy returns the permission policy attached to loaded articles.
func (s *Store) Policy() *Policy {
	return s.policy
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}
