package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/account-service/internal/events"
)

// NotificationService records account lifecycle events for audit purposes.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger) *NotificationService {
	return &NotificationService{dispatcher: dispatcher, logger: logger}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	for _, eventType := range []events.EventType{
		events.EventAccountCreated,
		events.EventAccountVerified,
		events.EventVerificationResent,
		events.EventAccountDeleted,
		events.EventAccountRestored,
		events.EventAccountTokensSpent,
		events.EventProfileImageChanged,
	} {
		n.dispatcher.Subscribe(eventType, n.handleEvent)
	}
}

func (n *NotificationService) handleEvent(_ context.Context, event events.Event) error {
	n.logger.Info("account event",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("account_id", event.AccountID),
		zap.Any("payload", event.Payload))
	return nil
}
