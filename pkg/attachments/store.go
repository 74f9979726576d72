package attachments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/CTAG07/wiki/pkg/wiki"
)

const schema = `
CREATE TABLE IF NOT EXISTS attachments_attachment (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    article_id INTEGER NOT NULL,
    current_revision_id INTEGER,
    original_filename TEXT NOT NULL DEFAULT '',
    created TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attachment_article ON attachments_attachment (article_id);

CREATE TABLE IF NOT EXISTS attachments_revision (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    attachment_id INTEGER NOT NULL REFERENCES attachments_attachment(id) ON DELETE CASCADE,
    revision_number INTEGER NOT NULL,
    file TEXT NOT NULL DEFAULT '',
    size INTEGER NOT NULL DEFAULT 0,
    description TEXT NOT NULL DEFAULT '',
    user_message TEXT NOT NULL DEFAULT '',
    user_id INTEGER,
    ip_address TEXT NOT NULL DEFAULT '',
    previous_revision_id INTEGER,
    deleted BOOLEAN NOT NULL DEFAULT 0,
    locked BOOLEAN NOT NULL DEFAULT 0,
    created TIMESTAMP NOT NULL,
    UNIQUE(attachment_id, revision_number)
);
`

// SetupSchema creates the attachment tables. The wiki schema must already
// exist, as listing attachments joins against the article tables.
func SetupSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.Exec(schema); err != nil {
		return fmt.Errorf("could not create attachments schema: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	return nil
}

const attachmentColumns = `
    at.id, at.article_id, at.original_filename, at.created,
    r.id, r.revision_number, r.file, r.size, r.description, r.user_message, r.user_id, r.ip_address,
    r.previous_revision_id, r.deleted, r.locked, r.created`

const revisionColumns = `id, attachment_id, revision_number, file, size, description, user_message,
    user_id, ip_address, previous_revision_id, deleted, locked, created`

// activeFrom selects attachments whose article is not deleted and whose
// current revision is neither deleted nor missing its file.
const activeFrom = `
FROM attachments_attachment at
JOIN attachments_revision r ON r.id = at.current_revision_id
JOIN wiki_article a ON a.id = at.article_id
LEFT JOIN wiki_article_revision ar ON ar.id = a.current_revision_id
WHERE COALESCE(ar.deleted, 0) = 0 AND r.deleted = 0 AND r.file != ''`

// Emitter is told about every new attachment revision.
type Emitter interface {
	Emit(ctx context.Context, model string, obj any, created bool) (int, error)
}

// Store manages attachments, their revisions and the files behind them.
type Store struct {
	db       *sql.DB
	cfg      *Config
	articles *wiki.Store
	emitter  Emitter
	logger   *slog.Logger

	stmtGet         *sql.Stmt
	stmtForArticle  *sql.Stmt
	stmtSearch      *sql.Stmt
	stmtGetRevision *sql.Stmt
	stmtRevisions   *sql.Stmt
}

func NewStore(db *sql.DB, cfg *Config, articles *wiki.Store, logger *slog.Logger) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, cfg: cfg, articles: articles, logger: logger}

	queries := []struct {
		dst   **sql.Stmt
		query string
	}{
		{&s.stmtGet, `SELECT` + attachmentColumns + `
FROM attachments_attachment at
LEFT JOIN attachments_revision r ON r.id = at.current_revision_id
WHERE at.id = ?;`},
		{&s.stmtForArticle, `SELECT` + attachmentColumns + activeFrom + `
AND at.article_id = ? ORDER BY at.original_filename;`},
		{&s.stmtSearch, `SELECT` + attachmentColumns + activeFrom + `
AND (at.original_filename LIKE ? ESCAPE '\' OR r.description LIKE ? ESCAPE '\')
ORDER BY at.original_filename LIMIT ?;`},
		{&s.stmtGetRevision, `SELECT ` + revisionColumns + ` FROM attachments_revision WHERE id = ?;`},
		{&s.stmtRevisions, `SELECT ` + revisionColumns + ` FROM attachments_revision WHERE attachment_id = ?
ORDER BY revision_number DESC;`},
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

// SetEmitter installs the receiver of revision events.
func (s *Store) SetEmitter(e Emitter) {
	s.emitter = e
}

// Config returns the plugin settings the store was created with.
func (s *Store) Config() *Config {
	return s.cfg
}

func (s *Store) Close() {
	for _, stmt := range []*sql.Stmt{s.stmtGet, s.stmtForArticle, s.stmtSearch, s.stmtGetRevision, s.stmtRevisions} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttachment(row rowScanner) (*Attachment, error) {
	var (
		at                                  Attachment
		revID, revNo, size, userID, prevRev sql.NullInt64
		file, desc, msg, ip                 sql.NullString
		deleted, locked                     sql.NullBool
		revCreated                          sql.NullTime
	)
	err := row.Scan(&at.ID, &at.ArticleID, &at.OriginalFilename, &at.Created,
		&revID, &revNo, &file, &size, &desc, &msg, &userID, &ip, &prevRev, &deleted, &locked, &revCreated)
	if err != nil {
		return nil, err
	}
	if revID.Valid {
		at.CurrentRevision = &AttachmentRevision{
			ID:                 revID.Int64,
			AttachmentID:       at.ID,
			Attachment:         &at,
			RevisionNumber:     int(revNo.Int64),
			File:               file.String,
			FileSize:           size.Int64,
			Description:        desc.String,
			UserMessage:        msg.String,
			UserID:             userID.Int64,
			IPAddress:          ip.String,
			PreviousRevisionID: prevRev.Int64,
			Deleted:            deleted.Bool,
			Locked:             locked.Bool,
			Created:            revCreated.Time,
		}
	}
	return &at, nil
}

func scanRevision(row rowScanner) (*AttachmentRevision, error) {
	var (
		rev             AttachmentRevision
		userID, prevRev sql.NullInt64
	)
	err := row.Scan(&rev.ID, &rev.AttachmentID, &rev.RevisionNumber, &rev.File, &rev.FileSize, &rev.Description,
		&rev.UserMessage, &userID, &rev.IPAddress, &prevRev, &rev.Deleted, &rev.Locked, &rev.Created)
	if err != nil {
		return nil, err
	}
	rev.UserID = userID.Int64
	rev.PreviousRevisionID = prevRev.Int64
	return &rev, nil
}

func (s *Store) collect(rows *sql.Rows, article *wiki.Article) ([]*Attachment, error) {
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var out []*Attachment
	for rows.Next() {
		at, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		if article != nil && article.ID == at.ArticleID {
			at.Article = article
		}
		out = append(out, at)
	}
	return out, rows.Err()
}

// Get loads an attachment with its current revision and article.
func (s *Store) Get(ctx context.Context, id int64) (*Attachment, error) {
	at, err := scanAttachment(s.stmtGet.QueryRowContext(ctx, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, wiki.ErrNotFound
		}
		return nil, err
	}
	if s.articles != nil {
		if at.Article, err = s.articles.GetArticle(ctx, at.ArticleID); err != nil {
			return nil, fmt.Errorf("failed to load article of attachment %d: %w", id, err)
		}
	}
	return at, nil
}

// ForArticle lists the article's active attachments ordered by file name. A
// deleted article has none.
func (s *Store) ForArticle(ctx context.Context, a *wiki.Article) ([]*Attachment, error) {
	rows, err := s.stmtForArticle.QueryContext(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	return s.collect(rows, a)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Search finds active attachments by file name or description. Callers are
// responsible for filtering out attachments the user may not read.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]*Attachment, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + likeEscaper.Replace(query) + "%"
	rows, err := s.stmtSearch.QueryContext(ctx, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	found, err := s.collect(rows, nil)
	if err != nil || s.articles == nil {
		return found, err
	}
	for _, at := range found {
		if at.Article, err = s.articles.GetArticle(ctx, at.ArticleID); err != nil {
			return nil, err
		}
	}
	return found, nil
}

// GetRevision loads one revision of any attachment.
func (s *Store) GetRevision(ctx context.Context, id int64) (*AttachmentRevision, error) {
	rev, err := scanRevision(s.stmtGetRevision.QueryRowContext(ctx, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, wiki.ErrNotFound
		}
		return nil, err
	}
	return rev, nil
}

// Revisions lists the revisions of at, newest first.
func (s *Store) Revisions(ctx context.Context, at *Attachment) ([]*AttachmentRevision, error) {
	rows, err := s.stmtRevisions.QueryContext(ctx, at.ID)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var out []*AttachmentRevision
	for rows.Next() {
		rev, err := scanRevision(rows)
		if err != nil {
			return nil, err
		}
		rev.Attachment = at
		out = append(out, rev)
	}
	return out, rows.Err()
}

// Open opens the file stored for rev.
func (s *Store) Open(rev *AttachmentRevision) (*os.File, error) {
	if rev.File == "" {
		return nil, wiki.ErrNotFound
	}
	f, err := os.Open(s.fullPath(rev.File))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, wiki.ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// FilePath returns where the file of rev lives on disk.
func (s *Store) FilePath(rev *AttachmentRevision) string {
	return s.fullPath(rev.File)
}

// Upload describes a file sent by a user.
type Upload struct {
	Filename    string
	Body        io.Reader
	Description string
	Message     string
	User        *wiki.User
	IPAddress   string
}

// CanUpload reports whether u may add files to a.
func (s *Store) CanUpload(a *wiki.Article, u *wiki.User) bool {
	if u.IsAnonymous() && !s.cfg.Anonymous {
		return false
	}
	return a.CanWrite(u)
}

// Create attaches a new file to the article as revision 1 of a new attachment.
func (s *Store) Create(ctx context.Context, a *wiki.Article, up Upload) (*Attachment, error) {
	filename, err := CleanFilename(up.Filename)
	if err != nil {
		return nil, err
	}
	if err = s.cfg.CheckExtension(filename); err != nil {
		return nil, err
	}
	file, size, err := s.storeFile(a.ID, filename, up.Body)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	at := &Attachment{ArticleID: a.ID, Article: a, OriginalFilename: filename, Created: now}
	rev := &AttachmentRevision{
		File:        file,
		FileSize:    size,
		Description: up.Description,
		UserMessage: up.Message,
		UserID:      userID(up.User),
		IPAddress:   up.IPAddress,
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO attachments_attachment (article_id, original_filename, created) VALUES (?, ?, ?);`,
			a.ID, filename, now)
		if err != nil {
			return fmt.Errorf("failed to insert attachment: %w", err)
		}
		if at.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		return addRevision(ctx, tx, at, rev, now)
	})
	if err != nil {
		s.removeFile(file)
		return nil, err
	}
	at.CurrentRevision = rev

	s.logger.InfoContext(ctx, "Attachment uploaded",
		slog.Int64("article_id", a.ID),
		slog.Int64("attachment_id", at.ID),
		slog.String("filename", filename),
		slog.Int64("size", size),
	)
	s.emit(ctx, rev)
	return at, nil
}

// Replace stores a new file as the next revision of at. The attachment takes
// the new file's name.
func (s *Store) Replace(ctx context.Context, at *Attachment, up Upload) (*AttachmentRevision, error) {
	filename, err := CleanFilename(up.Filename)
	if err != nil {
		return nil, err
	}
	if err = s.cfg.CheckExtension(filename); err != nil {
		return nil, err
	}
	file, size, err := s.storeFile(at.ArticleID, filename, up.Body)
	if err != nil {
		return nil, err
	}

	rev := &AttachmentRevision{
		File:        file,
		FileSize:    size,
		Description: up.Description,
		UserMessage: up.Message,
		UserID:      userID(up.User),
		IPAddress:   up.IPAddress,
	}
	if rev.Description == "" && at.CurrentRevision != nil {
		rev.Description = at.CurrentRevision.Description
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE attachments_attachment SET original_filename = ? WHERE id = ?;`,
			filename, at.ID); err != nil {
			return err
		}
		return addRevision(ctx, tx, at, rev, time.Now().UTC())
	})
	if err != nil {
		s.removeFile(file)
		return nil, err
	}
	at.OriginalFilename = filename
	at.CurrentRevision = rev

	s.logger.InfoContext(ctx, "Attachment replaced",
		slog.Int64("attachment_id", at.ID),
		slog.Int("revision_number", rev.RevisionNumber),
	)
	s.emit(ctx, rev)
	return rev, nil
}

// Delete adds a revision that marks at as deleted. The file is kept so the
// attachment can be restored.
func (s *Store) Delete(ctx context.Context, at *Attachment, u *wiki.User, ip string) (*AttachmentRevision, error) {
	rev := inherit(at.CurrentRevision)
	rev.Deleted = true
	rev.UserID = userID(u)
	rev.IPAddress = ip
	if err := s.inTx(ctx, func(tx *sql.Tx) error {
		return addRevision(ctx, tx, at, rev, time.Now().UTC())
	}); err != nil {
		return nil, err
	}
	at.CurrentRevision = rev
	s.logger.InfoContext(ctx, "Attachment deleted", slog.Int64("attachment_id", at.ID))
	s.emit(ctx, rev)
	return rev, nil
}

// Restore makes a copy of an older revision of at the current one.
func (s *Store) Restore(ctx context.Context, at *Attachment, revisionID int64, u *wiki.User, ip string) (*AttachmentRevision, error) {
	old, err := s.GetRevision(ctx, revisionID)
	if err != nil {
		return nil, err
	}
	if old.AttachmentID != at.ID {
		return nil, wiki.ErrNotFound
	}

	rev := inherit(old)
	rev.Deleted = false
	rev.UserID = userID(u)
	rev.IPAddress = ip
	rev.UserMessage = fmt.Sprintf("Restored revision %d", old.RevisionNumber)
	if err = s.inTx(ctx, func(tx *sql.Tx) error {
		return addRevision(ctx, tx, at, rev, time.Now().UTC())
	}); err != nil {
		return nil, err
	}
	at.CurrentRevision = rev
	s.logger.InfoContext(ctx, "Attachment revision restored",
		slog.Int64("attachment_id", at.ID),
		slog.Int("restored", old.RevisionNumber),
		slog.Int("revision_number", rev.RevisionNumber),
	)
	s.emit(ctx, rev)
	return rev, nil
}

// inherit starts a new revision from the file and description of prev.
func inherit(prev *AttachmentRevision) *AttachmentRevision {
	rev := &AttachmentRevision{}
	if prev != nil {
		rev.File = prev.File
		rev.FileSize = prev.FileSize
		rev.Description = prev.Description
		rev.Locked = prev.Locked
	}
	return rev
}

// addRevision numbers rev after the latest revision of at, stores it and makes
// it current. It must run inside tx.
func addRevision(ctx context.Context, tx *sql.Tx, at *Attachment, rev *AttachmentRevision, now time.Time) error {
	var latest int
	var current sql.NullInt64
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(r.revision_number), 0), at.current_revision_id
FROM attachments_attachment at LEFT JOIN attachments_revision r ON r.attachment_id = at.id
WHERE at.id = ? GROUP BY at.id;`, at.ID).Scan(&latest, &current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return wiki.ErrNotFound
		}
		return fmt.Errorf("failed to read latest attachment revision: %w", err)
	}

	rev.AttachmentID = at.ID
	rev.Attachment = at
	rev.RevisionNumber = latest + 1
	rev.PreviousRevisionID = current.Int64
	rev.Created = now
	res, err := tx.ExecContext(ctx, `INSERT INTO attachments_revision
    (attachment_id, revision_number, file, size, description, user_message, user_id, ip_address,
     previous_revision_id, deleted, locked, created)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		at.ID, rev.RevisionNumber, rev.File, rev.FileSize, rev.Description, rev.UserMessage,
		nullInt(rev.UserID), rev.IPAddress, nullInt(rev.PreviousRevisionID), rev.Deleted, rev.Locked, now)
	if err != nil {
		return fmt.Errorf("failed to insert attachment revision: %w", err)
	}
	if rev.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `UPDATE attachments_attachment SET current_revision_id = ? WHERE id = ?;`,
		rev.ID, at.ID); err != nil {
		return fmt.Errorf("failed to move current attachment revision: %w", err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	return nil
}

// emit reports a new revision. Failing to notify never fails the change itself.
func (s *Store) emit(ctx context.Context, rev *AttachmentRevision) {
	if s.emitter == nil {
		return
	}
	if _, err := s.emitter.Emit(ctx, RevisionContentType, rev, true); err != nil {
		s.logger.ErrorContext(ctx, "Failed to emit attachment notification",
			slog.Int64("attachment_id", rev.AttachmentID),
			slog.String("error", err.Error()),
		)
	}
}

func userID(u *wiki.User) int64 {
	if u.IsAnonymous() {
		return 0
	}
	return u.ID
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}
