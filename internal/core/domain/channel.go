package domain

import "strings"

// Channel is a named group conversation.
type Channel struct {
	ID      int64  `json:"id"`
	UUID    string `json:"uuid"`
	Name    string `json:"name"`
	Private bool   `json:"private"`
	OwnerID int64  `json:"owner_id,omitempty"`
}

// ValidateChannelName checks a channel name supplied by a client.
func ValidateChannelName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrValidation.WithDetails("channel name is required")
	}
	if len(name) > 100 {
		return ErrValidation.WithDetails("channel name is too long")
	}
	return nil
}

// Membership links a user to a channel.
type Membership struct {
	ChannelID int64 `json:"channel_id"`
	UserID    int64 `json:"user_id"`
}
