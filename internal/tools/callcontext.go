package tools

import "context"

// CallContext carries turn-scoped values to handlers.
type CallContext struct {
	ThreadID string
	// Values is the thread's opaque context map. It must not be modified.
	Values map[string]any
}

type callContextKey struct{}

// WithCallContext attaches cc to ctx.
func WithCallContext(ctx context.Context, cc CallContext) context.Context {
	return context.WithValue(ctx, callContextKey{}, cc)
}

// CallContextFrom returns the call context attached to ctx, if any.
func CallContextFrom(ctx context.Context) (CallContext, bool) {
	cc, ok := ctx.Value(callContextKey{}).(CallContext)
	return cc, ok
}

// OwnerID identifies who a call acts for: the string "user_id" context
// value when present, else the thread id.
func (cc CallContext) OwnerID() string {
	if v, ok := cc.Values["user_id"].(string); ok && v != "" {
		return v
	}
	return cc.ThreadID
}
