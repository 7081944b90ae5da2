package domain

import "time"

type User struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Name             string    `gorm:"size:255;not null" json:"name"`
	Email            string    `gorm:"uniqueIndex;size:255;not null" json:"email"`
	PasswordHash     string    `gorm:"size:1024;not null" json:"-"`
	VerificationCode *string   `gorm:"size:16" json:"-"`
	Theme            string    `gorm:"size:32;not null;default:light" json:"theme"`
	AvatarKey        string    `gorm:"size:1024" json:"avatar_key,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// HasPendingCode reports whether a login code has been issued and not yet cleared.
func (u *User) HasPendingCode() bool {
	return u.VerificationCode != nil && *u.VerificationCode != ""
}
