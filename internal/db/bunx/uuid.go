package bunx

import "github.com/google/uuid"

// NewJTI generates a time-ordered UUIDv7 string used as a refresh token
// identifier. Sorting by jti follows issue order, which keeps rotation chains
// readable in the refresh_tokens table.
//
// It panics only when the entropy source fails.
func NewJTI() string {
	return uuid.Must(uuid.NewV7()).String()
}
