package models

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	Base
	Username string `gorm:"not null;index"`
	Email    string `gorm:"uniqueIndex;not null"`
	Password string `gorm:"not null"` // bcrypt hash
	Role     string `gorm:"default:'user'"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
