package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	cachemocks "github.com/velora-app/chatcore/cache/mocks"
	"github.com/velora-app/chatcore/crypto"
	"github.com/velora-app/chatcore/models"
)

func TestHub_InboxFanOutReachesEveryConnection(t *testing.T) {
	mockCache := new(cachemocks.MockCache)

	handlerCh := make(chan func([]byte), 1)
	mockCache.On("Subscribe", mock.Anything, "inbox:alice", mock.Anything).Run(func(args mock.Arguments) {
		handlerCh <- args.Get(2).(func(message []byte))
	}).Return(nil)

	hub := NewHub(mockCache)
	go hub.Run()

	alice := models.User{Id: "alice", DisplayName: "Alice"}
	first := NewClient(hub, nil, alice, crypto.KeyPair{}, nil)
	second := NewClient(hub, nil, alice, crypto.KeyPair{}, nil)

	hub.OpenCh <- first
	hub.OpenCh <- second

	var inboxHandler func([]byte)
	select {
	case inboxHandler = <-handlerCh:
	case <-time.After(time.Second):
		assert.Fail(t, "timed out waiting for inbox subscription")
	}
	// Let the hub loop finish registering the second connection
	assert.Eventually(t, func() bool { return len(hub.OpenCh) == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	// Both connections share one redis subscription
	mockCache.AssertNumberOfCalls(t, "Subscribe", 1)

	notif := []byte(`{"type":"message","senderId":"bob"}`)
	inboxHandler(notif)

	for _, client := range []*Client{first, second} {
		select {
		case payload := <-client.Send:
			var msg inboxMessage
			assert.NoError(t, json.Unmarshal(payload, &msg))
			assert.Equal(t, "notification", msg.Type)
			assert.JSONEq(t, string(notif), string(msg.Data))
		case <-time.After(time.Second):
			assert.Fail(t, "timed out waiting for inbox notification")
		}
	}
}

func TestHub_LastDisconnectCancelsInboxSubscription(t *testing.T) {
	mockCache := new(cachemocks.MockCache)

	subscribed := make(chan struct{}, 2)
	mockCache.On("Subscribe", mock.Anything, "inbox:alice", mock.Anything).Run(func(args mock.Arguments) {
		subscribed <- struct{}{}
	}).Return(nil)

	hub := NewHub(mockCache)
	go hub.Run()

	alice := models.User{Id: "alice"}
	client := NewClient(hub, nil, alice, crypto.KeyPair{}, nil)

	hub.OpenCh <- client
	select {
	case <-subscribed:
	case <-time.After(time.Second):
		assert.Fail(t, "timed out waiting for inbox subscription")
	}

	hub.CloseCh <- client

	// Reconnecting opens a fresh subscription, proving the first was torn down
	hub.OpenCh <- NewClient(hub, nil, alice, crypto.KeyPair{}, nil)
	select {
	case <-subscribed:
	case <-time.After(time.Second):
		assert.Fail(t, "timed out waiting for replacement inbox subscription")
	}
}
