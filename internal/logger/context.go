package logger

import "context"

type ctxKey struct{}

// WithContext attaches l to ctx so downstream calls can retrieve a logger
// already carrying the request's correlation fields.
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext retrieves the logger attached to ctx, or a no-op logger if
// none was attached.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok {
		return l
	}
	return NewNop()
}
