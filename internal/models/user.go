package models

import (
	"time"
)

const (
	RoleSeller = "seller"
	RoleBuyer  = "buyer"
	RoleAdmin  = "admin"
)

// User mirrors an account held by the external identity provider. UID is
// the provider's id; nothing here is used for authentication.
type User struct {
	UID       string    `gorm:"column:uid;primaryKey;type:varchar(128)" json:"uid"`
	Name      string    `gorm:"type:varchar(255)" json:"name"`
	Email     string    `gorm:"type:varchar(255);not null" json:"email"`
	Role      string    `gorm:"type:varchar(20);not null;default:'seller'" json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (User) TableName() string {
	return "users"
}

// IsAdmin checks if user has admin role
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
