package auth

import (
	"errors"
	"regexp"
	"slices"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrForbidden          = errors.New("insufficient permissions")
)

var usernameRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// IsValidUsername reports whether name is 1 to 64 characters of letters,
// digits, dot, hyphen or underscore, starting with a letter or digit.
func IsValidUsername(name string) bool {
	return usernameRE.MatchString(name)
}

// Role is an authorisation tier. Higher tiers hold every permission of
// the tiers below.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// ValidRoles lists the tiers from least to most privileged.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// Valid reports whether r is a known tier.
func (r Role) Valid() bool { return slices.Contains(ValidRoles, r) }

// IsValidRole is the function form of Role.Valid.
func IsValidRole(r Role) bool { return r.Valid() }

// User is an account declared under security.users.
type User struct {
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	Role         Role   `json:"role"`
}
