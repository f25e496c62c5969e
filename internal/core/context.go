package core

import "context"

type requestIDKey struct{}

// WithRequestID attaches the id of the admin request that triggered an operation.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// GetRequestID returns the request id attached to ctx, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
