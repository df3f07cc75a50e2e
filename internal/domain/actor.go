package domain

import "fmt"

type Role string

const (
	RoleCreator Role = "creator"
	RoleBrand   Role = "brand"
	RoleAdmin   Role = "admin"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleCreator, RoleBrand, RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidRole, s)
	}
}

// Actor: проверенная личность, пришедшая от identity provider.
type Actor struct {
	UserID string
	Role   Role
}

func (a Actor) Valid() bool {
	return a.UserID != "" && a.Role != ""
}

type ProfileKind string

const (
	ProfileBrand   ProfileKind = "brand"
	ProfileCreator ProfileKind = "creator"
)

type Profile struct {
	ID          string      `db:"id"`
	UserID      string      `db:"user_id"`
	Kind        ProfileKind `db:"kind"`
	DisplayName string      `db:"display_name"`
}
