package httpapi

import (
	"context"
)

// contextKey is a private type to avoid collisions with external context keys.
type contextKey string

const subjectKey contextKey = "httpapi-subject"

// WithSubject returns a context carrying the authenticated token subject.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// SubjectFromContext retrieves the authenticated subject, if any.
func SubjectFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(subjectKey).(string); ok {
		return v
	}
	return ""
}
