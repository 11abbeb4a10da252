package ports

import "context"

// EventPublisher publishes events to notify other instances
type EventPublisher interface {
	PublishLogout(ctx context.Context, userID, sessionID string) error
	PublishLogoutAll(ctx context.Context, userID string, count int64) error
}
