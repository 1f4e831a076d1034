package notify

import (
	"context"

	"tably/internal/models"
)

// NoopNotifier is used when notifications are disabled.
type NoopNotifier struct{}

func (NoopNotifier) SendTemplateMessage(ctx context.Context, tenantID int64, template string, booking *models.Booking) error {
	return nil
}

func (NoopNotifier) TriggerEvent(ctx context.Context, name string, payload any) error {
	return nil
}
