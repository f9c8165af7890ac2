package auth

import (
	"context"
)

type sessionKey struct{}

// ContextWithSession attaches the session to the context.
func ContextWithSession(ctx context.Context, session Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, session)
}

// SessionFromContext returns the session attached to the context, or nil.
func SessionFromContext(ctx context.Context) *Session {
	session, ok := ctx.Value(sessionKey{}).(Session)
	if !ok {
		return nil
	}
	return &session
}
