package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/yndnr/chatmesh-go/internal/core/domain"
	"github.com/yndnr/chatmesh-go/internal/core/event"
	"github.com/yndnr/chatmesh-go/internal/storage"
)

// LogRecorder appends an audit entry for every event on the bus.
type LogRecorder struct {
	logs   storage.LogRepository
	logger *slog.Logger
}

// NewLogRecorder creates a LogRecorder.
func NewLogRecorder(logs storage.LogRepository, logger *slog.Logger) *LogRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogRecorder{logs: logs, logger: logger.With("component", "log-recorder")}
}

// OnEvent implements event.Observer.
func (r *LogRecorder) OnEvent(e event.Event) {
	entry := &domain.LogEntry{
		Timestamp: e.Timestamp.UTC(),
		Kind:      e.Type.String(),
		ActorID:   e.ActorID,
		SessionID: e.SessionID,
		Origin:    e.Origin,
		Detail:    describe(e),
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := r.logs.AppendLog(ctx, entry); err != nil {
		r.logger.Warn("append audit log", "event", e.Type.String(), "error", err)
	}
}

func describe(e event.Event) string {
	switch p := e.Payload.(type) {
	case *domain.User:
		return fmt.Sprintf("user %d (%s)", p.ID, p.Username)
	case *domain.Channel:
		return fmt.Sprintf("channel %d (%s)", p.ID, p.Name)
	case *domain.Message:
		if p.IsChannel() {
			return fmt.Sprintf("%s message %d from %d to channel %d", p.Kind, p.ID, p.SenderID, p.ChannelID)
		}
		return fmt.Sprintf("%s message %d from %d to user %d", p.Kind, p.ID, p.SenderID, p.ReceiverID)
	case event.InvitationRef:
		return fmt.Sprintf("invitation channel %d invitee %d", p.ChannelID, p.InviteeID)
	case string:
		return p
	case nil:
		if e.SessionID != "" {
			return "session " + e.SessionID
		}
		return ""
	default:
		return fmt.Sprintf("%v", p)
	}
}
