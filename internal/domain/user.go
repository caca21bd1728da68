package domain

import "time"

// User is the domain model for workspace members.
type User struct {
	ID              string
	Username        string
	Name            string
	Email           string
	PasswordHash    string
	Roles           []Role
	EmailVerifiedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EmailVerified reports whether the user confirmed their email address.
func (u *User) EmailVerified() bool {
	return u.EmailVerifiedAt != nil
}

// HasAnyRole reports whether the user holds at least one of the given roles.
func (u *User) HasAnyRole(required ...Role) bool {
	for _, want := range required {
		for _, have := range u.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}
