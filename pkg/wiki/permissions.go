package wiki

// PermModerate is the permission that lets a user moderate every article.
const PermModerate = "wiki.moderate"

// PermissionFunc overrides one of the built-in permission checks.
type PermissionFunc func(a *Article, u *User) bool

// Policy decides what a user may do with an article. The zero value denies
// anonymous access; use NewPolicy to derive one from Settings.
type Policy struct {
	// Anonymous allows unauthenticated users to read articles.
	Anonymous bool
	// AnonymousWrite allows unauthenticated users to edit articles.
	AnonymousWrite bool

	// Optional overrides. When set they replace the built-in rule entirely.
	ReadFunc     PermissionFunc
	WriteFunc    PermissionFunc
	DeleteFunc   PermissionFunc
	ModerateFunc PermissionFunc
}

var defaultPolicy = NewPolicy(DefaultSettings())

// NewPolicy builds a policy from the anonymous access switches in s.
func NewPolicy(s *Settings) *Policy {
	return &Policy{
		Anonymous:      s.Anonymous,
		AnonymousWrite: s.AnonymousWrite,
	}
}

// CanRead reports whether u may view a.
func (p *Policy) CanRead(a *Article, u *User) bool {
	if p.ReadFunc != nil {
		return p.ReadFunc(a, u)
	}
	if u.IsAnonymous() && !p.Anonymous {
		return false
	}
	if a.OtherRead {
		return true
	}
	if u.IsAnonymous() {
		return false
	}
	if u.ID == a.OwnerID {
		return true
	}
	if a.GroupRead && u.InGroup(a.GroupID) {
		return true
	}
	return p.CanModerate(a, u)
}

// CanWrite reports whether u may create new revisions of a.
func (p *Policy) CanWrite(a *Article, u *User) bool {
	if p.WriteFunc != nil {
		return p.WriteFunc(a, u)
	}
	if u.IsAnonymous() && !p.AnonymousWrite {
		return false
	}
	if a.OtherWrite {
		return true
	}
	if u.IsAnonymous() {
		return false
	}
	if u.ID == a.OwnerID {
		return true
	}
	if a.GroupWrite && u.InGroup(a.GroupID) {
		return true
	}
	return p.CanModerate(a, u)
}

// CanDelete reports whether u may delete a. Anonymous users never can.
func (p *Policy) CanDelete(a *Article, u *User) bool {
	if p.DeleteFunc != nil {
		return p.DeleteFunc(a, u)
	}
	return !u.IsAnonymous() && p.CanWrite(a, u)
}

// CanModerate reports whether u may lock, purge or change permissions of a.
func (p *Policy) CanModerate(a *Article, u *User) bool {
	if p.ModerateFunc != nil {
		return p.ModerateFunc(a, u)
	}
	if u.IsAnonymous() {
		return false
	}
	return u.HasPerm(PermModerate)
}
