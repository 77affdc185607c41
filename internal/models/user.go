package models

import "fmt"

type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, s)
	}
	return r, nil
}

// User is a dashboard account. Admins see every basin regardless of AllowedBasinIDs.
type User struct {
	ID              string   `json:"id" yaml:"id"`
	Username        string   `json:"username" yaml:"username"`
	Role            Role     `json:"role" yaml:"role"`
	AllowedBasinIDs []string `json:"allowedBasinIds" yaml:"allowed_basins"`
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
