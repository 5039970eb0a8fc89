package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/tyemirov/oidcidp/internal/authkit"
)

var errDuplicateEntry = errors.New("directory.duplicate_entry")

// InMemoryDirectory is a read-only directory built once from a fixed entry list.
type InMemoryDirectory struct {
	byID    map[string]authkit.User
	byEmail map[string]authkit.User
}

// NewInMemoryDirectory indexes entries by id and by case-folded email.
func NewInMemoryDirectory(entries []Entry) (*InMemoryDirectory, error) {
	directory := &InMemoryDirectory{
		byID:    make(map[string]authkit.User, len(entries)),
		byEmail: make(map[string]authkit.User, len(entries)),
	}
	for _, entry := range entries {
		user, err := entry.User()
		if err != nil {
			return nil, err
		}
		email := normalizeEmail(user.Email)
		if _, exists := directory.byID[user.ID]; exists {
			return nil, fmt.Errorf("directory.memory: %w: id %s", errDuplicateEntry, user.ID)
		}
		if _, exists := directory.byEmail[email]; exists {
			return nil, fmt.Errorf("directory.memory: %w: email %s", errDuplicateEntry, email)
		}
		directory.byID[user.ID] = user
		directory.byEmail[email] = user
	}
	return directory, nil
}

func (directory *InMemoryDirectory) FindUserByEmail(ctx context.Context, email string) (authkit.User, error) {
	user, ok := directory.byEmail[normalizeEmail(email)]
	if !ok {
		return authkit.User{}, authkit.ErrUserNotFound
	}
	return user, nil
}

func (directory *InMemoryDirectory) FindUserByID(ctx context.Context, userID string) (authkit.User, error) {
	user, ok := directory.byID[userID]
	if !ok {
		return authkit.User{}, authkit.ErrUserNotFound
	}
	return user, nil
}
