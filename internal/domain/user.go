package domain

import (
	"strings"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Role string

const (
	RoleClient   Role = "CLIENT"
	RoleProvider Role = "PROVIDER"
)

// ParseRole accepts the role names issued by the identity provider, with or
// without a "ROLE_" prefix.
func ParseRole(s string) (Role, bool) {
	r := strings.ToUpper(strings.TrimSpace(s))
	r = strings.TrimPrefix(r, "ROLE_")
	switch Role(r) {
	case RoleClient, RoleProvider:
		return Role(r), true
	}
	return "", false
}

// User is the booking engine's read-only projection of an identity.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID        uuid.UUID `bun:"id,pk,type:uuid"`
	Email     string    `bun:"email,notnull"`
	FirstName string    `bun:"first_name,notnull"`
	LastName  string    `bun:"last_name,notnull"`
	Role      Role      `bun:"role,notnull"`
}

func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
