package wiki

import "context"

type contextKey string

const (
	contextKeyUser     = contextKey("user")
	contextKeyClientIP = contextKey("client_ip")
)

// WithUser returns a copy of ctx carrying u as the requesting user.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, contextKeyUser, u)
}

// UserFromContext returns the requesting user, or nil for anonymous requests.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(contextKeyUser).(*User)
	return u
}

// WithClientIP records the address revisions made during the request are
// attributed to.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, contextKeyClientIP, ip)
}

func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(contextKeyClientIP).(string)
	return ip
}
