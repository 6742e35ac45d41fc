package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// BcryptCost matches the cost used when passwords were first migrated to
// bcrypt; lowering it would silently weaken new hashes.
const BcryptCost = 12

// HashPassword hashes a password using bcrypt.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	return string(bytes), err
}

// CheckPassword compares a password with its bcrypt hash.
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
