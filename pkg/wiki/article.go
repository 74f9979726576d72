package wiki

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanArticle(row rowScanner) (*Article, error) {
	a := &Article{policy: s.policy}
	var (
		owner, group                     sql.NullInt64
		revID, revNo, revUser, revPrev   sql.NullInt64
		title, content, msg, autoLog, ip sql.NullString
		deleted, locked                  sql.NullBool
		revCreated                       sql.NullTime
	)
	err := row.Scan(&a.ID, &owner, &group, &a.GroupRead, &a.GroupWrite, &a.OtherRead, &a.OtherWrite,
		&a.Created, &a.Modified,
		&revID, &revNo, &title, &content, &msg, &autoLog, &ip, &revUser, &revPrev, &deleted, &locked, &revCreated)
	if err != nil {
		return nil, err
	}
	a.OwnerID = owner.Int64
	a.GroupID = group.Int64
	if revID.Valid {
		a.CurrentRevision = &ArticleRevision{
			ID:                 revID.Int64,
			ArticleID:          a.ID,
			RevisionNumber:     int(revNo.Int64),
			Title:              title.String,
			Content:            content.String,
			UserMessage:        msg.String,
			AutomaticLog:       autoLog.String,
			IPAddress:          ip.String,
			UserID:             revUser.Int64,
			PreviousRevisionID: revPrev.Int64,
			Deleted:            deleted.Bool,
			Locked:             locked.Bool,
			Created:            revCreated.Time,
		}
	}
	return a, nil
}

func scanRevision(row rowScanner) (*ArticleRevision, error) {
	var (
		rev           ArticleRevision
		user, prevRev sql.NullInt64
	)
	err := row.Scan(&rev.ID, &rev.ArticleID, &rev.RevisionNumber, &rev.Title, &rev.Content, &rev.UserMessage,
		&rev.AutomaticLog, &rev.IPAddress, &user, &prevRev, &rev.Deleted, &rev.Locked, &rev.Created)
	if err != nil {
		return nil, err
	}
	rev.UserID = user.Int64
	rev.PreviousRevisionID = prevRev.Int64
	return &rev, nil
}

// CreateArticle inserts a and, when rev is not nil, its first revision in one
// transaction. On success a.ID, rev.ID and rev.RevisionNumber are filled in and
// rev becomes the article's current revision.
func (s *Store) CreateArticle(ctx context.Context, a *Article, rev *ArticleRevision) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `INSERT INTO wiki_article
    (owner_id, group_id, group_read, group_write, other_read, other_write, created, modified)
VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		nullInt(a.OwnerID), nullInt(a.GroupID), a.GroupRead, a.GroupWrite, a.OtherRead, a.OtherWrite, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert article: %w", err)
	}
	if a.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	a.Created, a.Modified = now, now

	if rev != nil {
		rev.PreviousRevisionID = 0
		if err = insertRevision(ctx, tx, a.ID, rev, now); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	a.policy = s.policy
	a.CurrentRevision = rev
	s.logger.InfoContext(ctx, "Article created",
		slog.Int64("article_id", a.ID),
		slog.String("title", a.String()),
	)
	return nil
}

// insertRevision numbers rev after its predecessor, stores it and points the
// article at it. It must run inside tx.
func insertRevision(ctx context.Context, tx *sql.Tx, articleID int64, rev *ArticleRevision, now time.Time) error {
	var latest int
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(revision_number), 0) FROM wiki_article_revision WHERE article_id = ?;`, articleID).Scan(&latest)
	if err != nil {
		return fmt.Errorf("failed to read latest revision number: %w", err)
	}

	rev.ArticleID = articleID
	rev.RevisionNumber = latest + 1
	rev.Created = now
	res, err := tx.ExecContext(ctx, `INSERT INTO wiki_article_revision
    (article_id, revision_number, title, content, user_message, automatic_log, ip_address,
     user_id, previous_revision_id, deleted, locked, created)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		articleID, rev.RevisionNumber, rev.Title, rev.Content, rev.UserMessage, rev.AutomaticLog, rev.IPAddress,
		nullInt(rev.UserID), nullInt(rev.PreviousRevisionID), rev.Deleted, rev.Locked, now)
	if err != nil {
		return fmt.Errorf("failed to insert revision: %w", err)
	}
	if rev.ID, err = res.LastInsertId(); err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE wiki_article SET current_revision_id = ?, modified = ? WHERE id = ?;`,
		rev.ID, now, articleID); err != nil {
		return fmt.Errorf("failed to move current revision: %w", err)
	}
	return nil
}

// AddRevision stores rev as the newest revision of the article and makes it
// current. The previous current revision is recorded on rev.
func (s *Store) AddRevision(ctx context.Context, articleID int64, rev *ArticleRevision) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	var current sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT current_revision_id FROM wiki_article WHERE id = ?;`, articleID).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	rev.PreviousRevisionID = current.Int64

	if err = insertRevision(ctx, tx, articleID, rev, time.Now().UTC()); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	s.logger.DebugContext(ctx, "Article revision added",
		slog.Int64("article_id", articleID),
		slog.Int("revision_number", rev.RevisionNumber),
	)
	return nil
}

// ChangeRevision makes an existing revision of the article current again.
func (s *Store) ChangeRevision(ctx context.Context, articleID, revisionID int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE wiki_article SET current_revision_id = ?, modified = ?
WHERE id = ? AND EXISTS (SELECT 1 FROM wiki_article_revision WHERE id = ? AND article_id = ?);`,
		revisionID, time.Now().UTC(), articleID, revisionID, articleID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePermissions saves the ownership and permission bits of a.
func (s *Store) UpdatePermissions(ctx context.Context, a *Article) error {
	res, err := s.db.ExecContext(ctx, `UPDATE wiki_article
SET owner_id = ?, group_id = ?, group_read = ?, group_write = ?, other_read = ?, other_write = ?, modified = ?
WHERE id = ?;`,
		nullInt(a.OwnerID), nullInt(a.GroupID), a.GroupRead, a.GroupWrite, a.OtherRead, a.OtherWrite,
		time.Now().UTC(), a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetArticle loads an article together with its current revision.
func (s *Store) GetArticle(ctx context.Context, id int64) (*Article, error) {
	a, err := s.scanArticle(s.stmtGetArticle.QueryRowContext(ctx, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// ListArticles returns a page of articles ordered by id.
func (s *Store) ListArticles(ctx context.Context, limit, offset int) ([]*Article, error) {
	rows, err := s.stmtListArticles.QueryContext(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	return s.collectArticles(rows)
}

func (s *Store) collectArticles(rows *sql.Rows) ([]*Article, error) {
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var articles []*Article
	for rows.Next() {
		a, err := s.scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

// GetRevision loads a single revision by id.
func (s *Store) GetRevision(ctx context.Context, id int64) (*ArticleRevision, error) {
	rev, err := scanRevision(s.stmtGetRevision.QueryRowContext(ctx, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rev, nil
}

// Revisions lists every revision of an article, newest first.
func (s *Store) Revisions(ctx context.Context, articleID int64) ([]*ArticleRevision, error) {
	rows, err := s.stmtListRevisions.QueryContext(ctx, articleID)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var revisions []*ArticleRevision
	for rows.Next() {
		rev, err := scanRevision(rows)
		if err != nil {
			return nil, err
		}
		revisions = append(revisions, rev)
	}
	return revisions, rows.Err()
}

// CreateArticleForObject associates the article with obj. An object can be
// associated with at most one article.
func (s *Store) CreateArticleForObject(ctx context.Context, articleID int64, obj Model, isMPTT bool) (*ArticleForObject, error) {
	res, err := s.stmtInsertForObject.ExecContext(ctx, articleID, obj.ContentType(), obj.PK(), isMPTT)
	if err != nil {
		return nil, fmt.Errorf("failed to associate article %d with %s:%d: %w", articleID, obj.ContentType(), obj.PK(), err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &ArticleForObject{
		ID:          id,
		ArticleID:   articleID,
		ContentType: obj.ContentType(),
		ObjectID:    obj.PK(),
		IsMPTT:      isMPTT,
	}, nil
}

// ArticleForObject returns the article associated with obj, or ErrNotFound.
func (s *Store) ArticleForObject(ctx context.Context, obj Model) (*Article, error) {
	var articleID int64
	err := s.stmtGetForObject.QueryRowContext(ctx, obj.ContentType(), obj.PK()).Scan(&articleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.GetArticle(ctx, articleID)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Search finds articles whose current, non-deleted revision mentions query in
// its title or content.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]*Article, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	pattern := "%" + likeEscaper.Replace(query) + "%"
	rows, err := s.stmtSearchArticles.QueryContext(ctx, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	return s.collectArticles(rows)
}

// ArticleStats summarizes the article tables.
type ArticleStats struct {
	Articles  int64 `json:"articles"`
	Revisions int64 `json:"revisions"`
}

// Stats counts articles and revisions.
func (s *Store) Stats(ctx context.Context) (ArticleStats, error) {
	var st ArticleStats
	if err := s.stmtCountArticles.QueryRowContext(ctx).Scan(&st.Articles); err != nil {
		return st, err
	}
	if err := s.stmtCountRevisions.QueryRowContext(ctx).Scan(&st.Revisions); err != nil {
		return st, err
	}
	return st, nil
}
