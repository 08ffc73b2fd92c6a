package auth

import (
	"fmt"
	"sync"

	"github.com/nerrad567/substation-core/internal/infrastructure/config"
)

// UserStore holds the operator accounts declared in configuration.
type UserStore struct {
	users map[string]User

	// dummyHash is verified against when the username is unknown, so a
	// missing account costs the same as a wrong password.
	dummyOnce sync.Once
	dummyHash string
}

// NewUserStore validates the configured accounts and indexes them.
func NewUserStore(accounts []config.UserConfig) (*UserStore, error) {
	s := &UserStore{users: make(map[string]User, len(accounts))}
	for i, a := range accounts {
		if !IsValidUsername(a.Username) {
			return nil, fmt.Errorf("user %d: invalid username %q", i, a.Username)
		}
		if _, dup := s.users[a.Username]; dup {
			return nil, fmt.Errorf("user %q declared twice", a.Username)
		}
		role := Role(a.Role)
		if !IsValidRole(role) {
			return nil, fmt.Errorf("user %q: unknown role %q", a.Username, a.Role)
		}
		if _, err := parsePHC(a.PasswordHash); err != nil {
			return nil, fmt.Errorf("user %q: password_hash: %w", a.Username, err)
		}
		s.users[a.Username] = User{Username: a.Username, PasswordHash: a.PasswordHash, Role: role}
	}
	return s, nil
}

// Len returns the number of accounts.
func (s *UserStore) Len() int {
	return len(s.users)
}

// Authenticate checks a username and password. Every failure returns
// ErrInvalidCredentials.
func (s *UserStore) Authenticate(username, password string) (*User, error) {
	u, ok := s.users[username]
	if !ok {
		s.burnDummy(password)
		return nil, ErrInvalidCredentials
	}

	match, err := VerifyPassword(password, u.PasswordHash)
	if err != nil || !match {
		return nil, ErrInvalidCredentials
	}
	return &u, nil
}

func (s *UserStore) burnDummy(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = HashPassword("substation-dummy-password")
	})
	if s.dummyHash != "" {
		_, _ = VerifyPassword(password, s.dummyHash)
	}
}
