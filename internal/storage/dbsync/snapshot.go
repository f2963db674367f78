package dbsync

import "github.com/yndnr/chatmesh-go/internal/core/domain"

// Snapshot is a set of records to converge on. Empty sections are omitted on
// the wire.
type Snapshot struct {
	OpID        string               `json:"opId,omitempty"`
	Users       []*domain.User       `json:"clientes,omitempty"`
	Channels    []*domain.Channel    `json:"canales,omitempty"`
	Memberships []domain.Membership  `json:"canalMiembros,omitempty"`
	Messages    []*domain.Message    `json:"mensajes,omitempty"`
	Invitations []*domain.Invitation `json:"invitaciones,omitempty"`
}

// Empty reports whether the snapshot carries no records.
func (s *Snapshot) Empty() bool {
	return s == nil || len(s.Users)+len(s.Channels)+len(s.Memberships)+len(s.Messages)+len(s.Invitations) == 0
}

// Size returns the number of records carried.
func (s *Snapshot) Size() int {
	if s == nil {
		return 0
	}
	return len(s.Users) + len(s.Channels) + len(s.Memberships) + len(s.Messages) + len(s.Invitations)
}
