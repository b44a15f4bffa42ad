// Package ids mints identifiers: time-ordered UUIDv7 strings for HTTP
// requests and compact xids for protocol-level commands and messages.
package ids

import (
	"github.com/google/uuid"
	"github.com/rs/xid"
)

// RequestID returns a UUIDv7 string. It panics only if the system random
// source fails.
func RequestID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Short returns a 20 character, lexically sortable xid.
func Short() string {
	return xid.New().String()
}
