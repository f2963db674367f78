package event

import (
	"time"

	"github.com/yndnr/chatmesh-go/internal/core/domain"
)

// Type is the closed enumeration of session event kinds.
type Type int

// Event kinds. New kinds are appended; observers must keep a default case.
const (
	TCPConnected Type = iota + 1
	TCPDisconnected
	Login
	Logout
	UserRegistered
	MessageSent
	NewMessage
	NewChannelMessage
	ChannelCreated
	InviteSent
	InviteAccepted
	InviteRejected
	AudioSent
	ClusterStateUpdated
	UserStatusChanged
)

var typeNames = map[Type]string{
	TCPConnected:        "TCP_CONNECTED",
	TCPDisconnected:     "TCP_DISCONNECTED",
	Login:               "LOGIN",
	Logout:              "LOGOUT",
	UserRegistered:      "USER_REGISTERED",
	MessageSent:         "MESSAGE_SENT",
	NewMessage:          "NEW_MESSAGE",
	NewChannelMessage:   "NEW_CHANNEL_MESSAGE",
	ChannelCreated:      "CHANNEL_CREATED",
	InviteSent:          "INVITE_SENT",
	InviteAccepted:      "INVITE_ACCEPTED",
	InviteRejected:      "INVITE_REJECTED",
	AudioSent:           "AUDIO_SENT",
	ClusterStateUpdated: "CLUSTER_STATE_UPDATED",
	UserStatusChanged:   "USER_STATUS_CHANGED",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "UNKNOWN"
}

// Types returns every defined event kind in declaration order.
func Types() []Type {
	out := make([]Type, 0, len(typeNames))
	for t := TCPConnected; t <= UserStatusChanged; t++ {
		out = append(out, t)
	}
	return out
}

// Event is one occurrence published on the bus.
type Event struct {
	ID        string
	Type      Type
	SessionID string
	ActorID   int64
	Origin    string
	Payload   any
	Timestamp time.Time
}

// New creates a locally originated event.
func New(t Type, sessionID string, actorID int64, payload any) Event {
	return Event{
		ID:        domain.NewEventID(),
		Type:      t,
		SessionID: sessionID,
		ActorID:   actorID,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// FromPeer creates an event produced while applying a replication message from origin.
func FromPeer(t Type, origin string, actorID int64, payload any) Event {
	e := New(t, "", actorID, payload)
	e.Origin = origin
	return e
}

// Remote reports whether the event was produced by applying peer state.
func (e Event) Remote() bool {
	return e.Origin != ""
}

// InvitationRef identifies the invitation an INVITE_* event refers to.
type InvitationRef struct {
	ChannelID   int64
	ChannelUUID string
	InviteeID   int64
}
