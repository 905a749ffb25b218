package model

import "strings"

type Role string

const (
	RoleAnonymous Role = "anonymous"
	RoleUser      Role = "user"
	RoleMod       Role = "moderator"
	RoleAdmin     Role = "admin"
)

// ParseRole maps a token claim onto a known role. Anything unrecognised is anonymous.
func ParseRole(raw string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleUser:
		return RoleUser
	case RoleMod, "mod":
		return RoleMod
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleAnonymous
	}
}

// Rank orders roles from least to most privileged.
func (r Role) Rank() int {
	switch r {
	case RoleUser:
		return 1
	case RoleMod:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}

func (r Role) AtLeast(other Role) bool {
	return r.Rank() >= other.Rank()
}
