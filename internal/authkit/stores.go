package authkit

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrUserNotFound indicates the directory holds no matching user.
var ErrUserNotFound = errors.New("user_directory.not_found")

// User is a directory record. Profile is opaque except for SubjectID.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	SubjectID    string
	Profile      json.RawMessage
}

// UserDirectory resolves users for login and token issuance.
type UserDirectory interface {
	// FindUserByEmail matches email case-insensitively.
	FindUserByEmail(ctx context.Context, email string) (User, error)
	FindUserByID(ctx context.Context, userID string) (User, error)
}

// PendingGrant is the state bound to an issued authorization code.
type PendingGrant struct {
	CodeChallenge string
	RedirectURI   string
	ClientID      string
	Nonce         string
	UserID        string
	CreatedAt     time.Time
}

// AuthorizationCodeStore holds single-use authorization codes.
type AuthorizationCodeStore interface {
	// Store records grant under code with CreatedAt set to the store's clock.
	Store(ctx context.Context, code string, grant PendingGrant) error
	// Consume removes and returns the grant. Absent and expired codes both fail.
	Consume(ctx context.Context, code string) (PendingGrant, error)
}
