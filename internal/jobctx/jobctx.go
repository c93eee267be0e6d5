package jobctx

import "context"

type ctxKey struct{}

// WithJobID returns a copy of ctx with the job ID attached.
func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the job ID from ctx. Returns "" if absent.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
