package controller

import "github.com/google/uuid"

// NewToken mints an opaque handshake token. It comfortably fits the
// 128-byte token field and is unguessable enough for its only job:
// letting the controller tell its own child apart from a stray local
// connection.
func NewToken() string {
	return uuid.NewString()
}
