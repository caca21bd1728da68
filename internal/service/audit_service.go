package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/workspace-service/internal/events"
)

// SessionEventRecorder counts session events, typically as metrics.
type SessionEventRecorder interface {
	RecordSessionEvent(eventType string)
}

// AuditService writes an audit trail of session events.
type AuditService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	recorder   SessionEventRecorder
}

// NewAuditService creates the service. recorder may be nil.
func NewAuditService(dispatcher events.Dispatcher, logger *zap.Logger, recorder SessionEventRecorder) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{
		dispatcher: dispatcher,
		logger:     logger.Named("audit"),
		recorder:   recorder,
	}
}

// RegisterHandlers subscribes to events.
func (a *AuditService) RegisterHandlers() {
	if a.dispatcher == nil {
		return
	}
	for _, eventType := range events.SessionEventTypes {
		a.dispatcher.Subscribe(eventType, a.handle)
	}
}

func (a *AuditService) handle(_ context.Context, event events.Event) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("user_id", event.UserID),
		zap.Time("at", event.Timestamp),
	}
	if event.Payload != nil {
		fields = append(fields, zap.Any("payload", event.Payload))
	}
	a.logger.Info("session event", fields...)

	if a.recorder != nil {
		a.recorder.RecordSessionEvent(string(event.Type))
	}
	return nil
}
