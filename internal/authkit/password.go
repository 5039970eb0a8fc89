package authkit

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHashCost matches the cost of the directory's stored hashes.
const PasswordHashCost = 12

// decoyPasswordHash is a cost-12 hash no account uses.
const decoyPasswordHash = "$2a$12$eZRgEr6Jo7hg4NW3sz/t0e/6eH/upqgJKjC.VLYQ0godBpkXSA962"

// VerifyPassword reports whether password matches the bcrypt hash.
func VerifyPassword(passwordHash string, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)) == nil
}

// compareDecoyPassword spends one bcrypt comparison for an unknown account so
// its response time matches a wrong password.
func compareDecoyPassword(password string) {
	_ = bcrypt.CompareHashAndPassword([]byte(decoyPasswordHash), []byte(password))
}

// HashPassword produces a bcrypt hash suitable for a directory entry.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), PasswordHashCost)
	if err != nil {
		return "", fmt.Errorf("password.hash: %w", err)
	}
	return string(hash), nil
}
