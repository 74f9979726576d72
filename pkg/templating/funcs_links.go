package templating

import (
	"errors"
	"net/http"
	"strings"
)

// loginURL returns the login page URL with a "next" parameter pointing back
// at the current request. The query string is quoted as a whole, including
// its leading "?", so it survives as part of a single parameter value.
func (tm *TemplateManager) loginURL(c Context) (string, error) {
	r, ok := c["request"].(*http.Request)
	if !ok || r == nil || r.URL == nil {
		return "", errors.New("loginURL: no request in context")
	}
	next := r.URL.Path
	if qs := r.URL.RawQuery; qs != "" {
		next += quote("?" + qs)
	}
	return tm.services.Settings.LoginURL + "?next=" + next, nil
}

const upperhex = "0123456789ABCDEF"

// quote percent-encodes every byte of s except ASCII letters, digits, '/' and
// "_.-~".
func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isQuoteSafe(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

func isQuoteSafe(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("/_.-~", c) >= 0
}
