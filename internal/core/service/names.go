package service

import (
	"context"

	"github.com/yndnr/chatmesh-go/internal/core/domain"
	"github.com/yndnr/chatmesh-go/internal/storage"
)

// nameCache resolves display names for one response, tolerating records
// that have not replicated yet.
type nameCache struct {
	users    storage.UserRepository
	channels storage.ChannelRepository
	u        map[int64]string
	c        map[int64]*domain.Channel
}

func newNameCache(users storage.UserRepository, channels storage.ChannelRepository) *nameCache {
	return &nameCache{
		users:    users,
		channels: channels,
		u:        make(map[int64]string),
		c:        make(map[int64]*domain.Channel),
	}
}

func (n *nameCache) user(ctx context.Context, id int64) string {
	if id == 0 {
		return ""
	}
	if name, ok := n.u[id]; ok {
		return name
	}
	name := ""
	if u, err := n.users.GetUser(ctx, id); err == nil {
		name = u.Username
	}
	n.u[id] = name
	return name
}

func (n *nameCache) channel(ctx context.Context, id int64) *domain.Channel {
	if c, ok := n.c[id]; ok {
		return c
	}
	c, err := n.channels.GetChannel(ctx, id)
	if err != nil {
		c = &domain.Channel{ID: id}
	}
	n.c[id] = c
	return c
}
