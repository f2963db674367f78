package domain

import "time"

// InvitationState is the lifecycle state of a channel invitation.
type InvitationState string

// Invitation states. PENDING moves to exactly one of the terminal states.
const (
	InvitationPending  InvitationState = "PENDIENTE"
	InvitationAccepted InvitationState = "ACEPTADA"
	InvitationRejected InvitationState = "RECHAZADA"
)

// Terminal reports whether the state can no longer change.
func (s InvitationState) Terminal() bool {
	return s == InvitationAccepted || s == InvitationRejected
}

// Rank orders states so replicated updates only move forward.
func (s InvitationState) Rank() int {
	switch s {
	case InvitationAccepted, InvitationRejected:
		return 1
	default:
		return 0
	}
}

// Invitation is a pending or answered request for a user to join a channel.
type Invitation struct {
	ID          int64           `json:"id"`
	ChannelID   int64           `json:"channel_id"`
	ChannelUUID string          `json:"channel_uuid"`
	InviterID   int64           `json:"inviter_id"`
	InviteeID   int64           `json:"invitee_id"`
	CreatedAt   time.Time       `json:"created_at"`
	State       InvitationState `json:"state"`
}
