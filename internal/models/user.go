package models

import (
	"time"
)

// User roles that influence room classification
const (
	RoleUser   = "user"
	RoleExpert = "expert"
)

// User is the directory entry of an account. Accounts are managed
// elsewhere; the chat server only reads this table.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `json:"name"`
	Email     string    `gorm:"uniqueIndex" json:"email"`
	Role      string    `json:"role" gorm:"default:user"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsExpert reports whether the user answers as an expert
func (u *User) IsExpert() bool {
	return u.Role == RoleExpert
}
