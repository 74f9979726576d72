package wiki

import (
	"fmt"
	"slices"
	"time"
)

// ArticleContentType is the content type under which articles are associated
// with themselves or looked up as generic objects.
const ArticleContentType = "wiki.article"

// Model is anything an article can be associated with. Implementations must
// return a stable content type and a primary key that is unique within it.
type Model interface {
	ContentType() string
	PK() int64
}

// User is an account as seen by the wiki. A nil *User is the anonymous user.
type User struct {
	ID          int64
	Username    string
	IsSuperuser bool
	Groups      []int64
	Perms       []string
}

// IsAnonymous reports whether u represents an unauthenticated visitor.
func (u *User) IsAnonymous() bool {
	return u == nil || u.ID == 0
}

// InGroup reports whether u is a member of the group with the given id.
func (u *User) InGroup(groupID int64) bool {
	if u.IsAnonymous() || groupID == 0 {
		return false
	}
	return slices.Contains(u.Groups, groupID)
}

// HasPerm reports whether u holds the named permission. Superusers hold all of them.
func (u *User) HasPerm(perm string) bool {
	if u.IsAnonymous() {
		return false
	}
	if u.IsSuperuser {
		return true
	}
	return slices.Contains(u.Perms, perm)
}

// Article is the unit of wiki content. Its text lives in revisions; the article
// itself only points at the current one and carries the permission bits.
type Article struct {
	ID              int64
	CurrentRevision *ArticleRevision
	OwnerID         int64
	GroupID         int64
	GroupRead       bool
	GroupWrite      bool
	OtherRead       bool
	OtherWrite      bool
	Created         time.Time
	Modified        time.Time

	policy *Policy
}

// NewArticle returns an article with the default permission bits: everyone may
// read and write unless the policy says otherwise.
func NewArticle() *Article {
	return &Article{
		GroupRead:  true,
		GroupWrite: true,
		OtherRead:  true,
		OtherWrite: true,
	}
}

func (a *Article) ContentType() string { return ArticleContentType }

func (a *Article) PK() int64 { return a.ID }

func (a *Article) String() string {
	if a.CurrentRevision != nil {
		return a.CurrentRevision.Title
	}
	return fmt.Sprintf("Article without content (%d)", a.ID)
}

// IsDeleted reports whether the current revision marks the article as deleted.
func (a *Article) IsDeleted() bool {
	return a.CurrentRevision != nil && a.CurrentRevision.Deleted
}

// IsLocked reports whether the current revision is locked against editing.
func (a *Article) IsLocked() bool {
	return a.CurrentRevision != nil && a.CurrentRevision.Locked
}

// SetPolicy attaches the permission policy used by the Can* methods.
func (a *Article) SetPolicy(p *Policy) {
	a.policy = p
}

func (a *Article) permissions() *Policy {
	if a.policy == nil {
		return defaultPolicy
	}
	return a.policy
}

func (a *Article) CanRead(u *User) bool     { return a.permissions().CanRead(a, u) }
func (a *Article) CanWrite(u *User) bool    { return a.permissions().CanWrite(a, u) }
func (a *Article) CanDelete(u *User) bool   { return a.permissions().CanDelete(a, u) }
func (a *Article) CanModerate(u *User) bool { return a.permissions().CanModerate(a, u) }

// ArticleRevision is one saved version of an article's title and content.
type ArticleRevision struct {
	ID                 int64
	ArticleID          int64
	RevisionNumber     int
	Title              string
	Content            string
	UserMessage        string
	AutomaticLog       string
	IPAddress          string
	UserID             int64
	PreviousRevisionID int64
	Deleted            bool
	Locked             bool
	Created            time.Time
}

// ArticleForObject links an article to an object of any content type.
type ArticleForObject struct {
	ID          int64
	ArticleID   int64
	ContentType string
	ObjectID    int64
	IsMPTT      bool
}

// Permissioned is implemented by articles and by anything that belongs to an
// article and defers its permissions to it.
type Permissioned interface {
	CanRead(u *User) bool
	CanWrite(u *User) bool
	CanDelete(u *User) bool
	CanModerate(u *User) bool
}
