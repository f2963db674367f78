package domain

import (
	"net/mail"
	"strings"
)

// User is a registered chat account.
type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
	Photo        []byte `json:"photo,omitempty"`
	IP           string `json:"ip,omitempty"`
	Connected    bool   `json:"connected"`
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateRegistration checks the user-supplied registration fields.
func ValidateRegistration(username, email, password string) error {
	switch {
	case strings.TrimSpace(username) == "":
		return ErrValidation.WithDetails("username is required")
	case len(username) > 64:
		return ErrValidation.WithDetails("username is too long")
	case strings.TrimSpace(email) == "":
		return ErrValidation.WithDetails("email is required")
	case len(password) < 4:
		return ErrValidation.WithDetails("password must have at least 4 characters")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return ErrValidation.WithDetails("email is not valid")
	}
	return nil
}

// Equal reports whether two user records carry the same replicated state.
// Presence is not part of it: Connected is maintained by each node.
func (u *User) Equal(o *User) bool {
	if u == nil || o == nil {
		return u == o
	}
	return u.ID == o.ID &&
		u.Username == o.Username &&
		u.Email == o.Email &&
		u.PasswordHash == o.PasswordHash &&
		string(u.Photo) == string(o.Photo) &&
		u.IP == o.IP
}
