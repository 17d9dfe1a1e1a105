package model

import (
	"github.com/google/uuid"
)

// User role constants
const (
	UserRoleAdmin  = "admin"
	UserRoleMember = "member"
)

// User is a directory entry used for mention resolution and actor names.
type User struct {
	ID          uuid.UUID `json:"id" db:"id" mapstructure:"id"`
	DisplayName string    `json:"display_name" db:"display_name" mapstructure:"display_name"`
	Role        string    `json:"role" db:"role" mapstructure:"role"`
}
