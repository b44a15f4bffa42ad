// Package correlation carries the per-request correlation identifier that is
// echoed on responses and attached to every log entry of a request.
package correlation

import (
	"context"
	"net/http"
	"strings"

	"pkt.systems/relayd/internal/ids"
)

// Header is the HTTP header used to propagate correlation identifiers.
const Header = "X-Correlation-Id"

// MaxIDLength caps accepted external identifiers.
const MaxIDLength = 128

type contextKey struct{}

// With returns ctx carrying id.
func With(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, contextKey{}, id)
}

// ID returns the identifier stored on ctx, or "".
func ID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// Normalize trims id and rejects empty, overlong or non-printable values.
func Normalize(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > MaxIDLength {
		return "", false
	}
	for _, r := range id {
		if r < 0x20 || r > 0x7e {
			return "", false
		}
	}
	return id, true
}

// FromRequest returns the caller supplied identifier when valid, otherwise a
// freshly generated one.
func FromRequest(r *http.Request) string {
	if r != nil {
		if id, ok := Normalize(r.Header.Get(Header)); ok {
			return id
		}
	}
	return ids.RequestID()
}
