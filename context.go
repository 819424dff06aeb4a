package adminauth

import "context"

type ctxKey string

const ctxKeyState ctxKey = "adminauth_state"

// WithState stores a session snapshot in the context.
func WithState(ctx context.Context, s State) context.Context {
	return context.WithValue(ctx, ctxKeyState, s)
}

// StateFromContext extracts the session snapshot stored by WithState.
func StateFromContext(ctx context.Context) (State, bool) {
	v, ok := ctx.Value(ctxKeyState).(State)
	return v, ok
}

// RolesFromContext returns the session roles stored in the context.
func RolesFromContext(ctx context.Context) []string {
	s, _ := StateFromContext(ctx)
	return s.Roles
}

// ProfileFromContext returns the profile stored in the context, or nil.
func ProfileFromContext(ctx context.Context) *Profile {
	s, _ := StateFromContext(ctx)
	return s.User
}
