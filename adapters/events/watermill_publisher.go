package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/layer-3/passport/ports"
)

const (
	TopicLogout    = "passport.logout"
	TopicLogoutAll = "passport.logout_all"
)

// LogoutEvent is published when a single session is revoked
type LogoutEvent struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// LogoutAllEvent is published when every session of a user is revoked
type LogoutAllEvent struct {
	UserID string `json:"user_id"`
	Count  int64  `json:"count"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{
		publisher: publisher,
	}
}

// PublishLogout publishes a logout event
func (p *WatermillPublisher) PublishLogout(ctx context.Context, userID, sessionID string) error {
	return p.publish(ctx, TopicLogout, sessionID, LogoutEvent{
		UserID:    userID,
		SessionID: sessionID,
	})
}

// PublishLogoutAll publishes a logout-all event
func (p *WatermillPublisher) PublishLogoutAll(ctx context.Context, userID string, count int64) error {
	return p.publish(ctx, TopicLogoutAll, watermill.NewUUID(), LogoutAllEvent{
		UserID: userID,
		Count:  count,
	})
}

func (p *WatermillPublisher) publish(ctx context.Context, topic, id string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(id, payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// NopPublisher discards events, for deployments without a broker
type NopPublisher struct{}

func (NopPublisher) PublishLogout(ctx context.Context, userID, sessionID string) error { return nil }
func (NopPublisher) PublishLogoutAll(ctx context.Context, userID string, count int64) error {
	return nil
}
