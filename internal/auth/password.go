package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost matches the cost used by the user provisioning commands.
const DefaultBcryptCost = 12

// PasswordService hashes and verifies user passwords with bcrypt.
type PasswordService struct {
	cost int
}

// NewPasswordService creates a service using cost, or DefaultBcryptCost when
// cost is out of bcrypt's range.
func NewPasswordService(cost int) *PasswordService {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &PasswordService{cost: cost}
}

// Hash returns the bcrypt hash of plain.
func (s *PasswordService) Hash(plain string) (string, error) {
	if plain == "" {
		return "", fmt.Errorf("password is required")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether plain matches hash. Empty, malformed or placeholder
// hashes never match.
func (s *PasswordService) Verify(plain, hash string) bool {
	if plain == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
