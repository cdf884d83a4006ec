package auth

import "context"

type userContextKey struct{}

// ContextWithUser attaches the authenticated caller to the context.
func ContextWithUser(ctx context.Context, uc UserContext) context.Context {
	return context.WithValue(ctx, userContextKey{}, &uc)
}

// UserFromContext extracts the authenticated caller from the context.
func UserFromContext(ctx context.Context) (UserContext, bool) {
	if ctx == nil {
		return UserContext{}, false
	}
	v, ok := ctx.Value(userContextKey{}).(*UserContext)
	if !ok || v == nil {
		return UserContext{}, false
	}
	return *v, true
}
