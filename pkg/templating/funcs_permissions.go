package templating

import (
	"fmt"

	"github.com/CTAG07/wiki/pkg/wiki"
)

func permissioned(fn string, obj any) (wiki.Permissioned, error) {
	p, ok := obj.(wiki.Permissioned)
	if !ok {
		return nil, fmt.Errorf("%s: %T does not carry wiki permissions", fn, obj)
	}
	return p, nil
}

// canRead reports whether user may read obj, an article or anything that
// defers to one.
func canRead(obj any, user *wiki.User) (bool, error) {
	p, err := permissioned("canRead", obj)
	if err != nil {
		return false, err
	}
	return p.CanRead(user), nil
}

func canWrite(obj any, user *wiki.User) (bool, error) {
	p, err := permissioned("canWrite", obj)
	if err != nil {
		return false, err
	}
	return p.CanWrite(user), nil
}

func canDelete(obj any, user *wiki.User) (bool, error) {
	p, err := permissioned("canDelete", obj)
	if err != nil {
		return false, err
	}
	return p.CanDelete(user), nil
}

func canModerate(obj any, user *wiki.User) (bool, error) {
	p, err := permissioned("canModerate", obj)
	if err != nil {
		return false, err
	}
	return p.CanModerate(user), nil
}

// isLocked reports whether obj has a current revision that is locked.
// Values without a lock state are never locked.
func isLocked(obj any) bool {
	if a, ok := obj.(*wiki.Article); ok && a == nil {
		return false
	}
	l, ok := obj.(interface{ IsLocked() bool })
	return ok && l.IsLocked()
}
