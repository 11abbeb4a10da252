package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, messages <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-messages:
		msg.Ack()
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestWatermillPublisher(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { pubSub.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logouts, err := pubSub.Subscribe(ctx, TopicLogout)
	require.NoError(t, err)
	logoutAlls, err := pubSub.Subscribe(ctx, TopicLogoutAll)
	require.NoError(t, err)

	publisher := NewWatermillPublisher(pubSub)

	require.NoError(t, publisher.PublishLogout(ctx, "u-1", "s-1"))
	msg := receive(t, logouts)
	assert.Equal(t, "s-1", msg.UUID)

	var logout LogoutEvent
	require.NoError(t, json.Unmarshal(msg.Payload, &logout))
	assert.Equal(t, LogoutEvent{UserID: "u-1", SessionID: "s-1"}, logout)

	require.NoError(t, publisher.PublishLogoutAll(ctx, "u-1", 3))
	msg = receive(t, logoutAlls)

	var logoutAll LogoutAllEvent
	require.NoError(t, json.Unmarshal(msg.Payload, &logoutAll))
	assert.Equal(t, LogoutAllEvent{UserID: "u-1", Count: 3}, logoutAll)
}
