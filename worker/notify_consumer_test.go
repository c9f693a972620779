package worker_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	cachemocks "github.com/velora-app/chatcore/cache/mocks"
	"github.com/velora-app/chatcore/models"
	"github.com/velora-app/chatcore/mq"
	mqmocks "github.com/velora-app/chatcore/mq/mocks"
	"github.com/velora-app/chatcore/worker"
)

func TestNotifyConsumer_RepublishesToInbox(t *testing.T) {
	mockMQ := new(mqmocks.MockMQ)
	mockCache := new(cachemocks.MockCache)
	consumer := worker.NewNotifyConsumer(mockMQ, mockCache)

	queued := worker.QueuedNotification{
		RecipientId: "bob",
		Notification: models.Notification{
			Type:      "message",
			SenderId:  "alice",
			ChatId:    "alice#bob",
			Message:   "hey bob",
			Timestamp: 1000,
		},
	}
	body, err := json.Marshal(queued)
	assert.NoError(t, err)

	record := &mq.Message{Id: "r1", Body: string(body)}
	mockMQ.On("Receive", mock.Anything, mock.Anything).Return(record, nil).Once()
	mockMQ.On("Receive", mock.Anything, mock.Anything).Return(nil, context.Canceled)

	published := make(chan []byte, 1)
	mockCache.On("Publish", mock.Anything, "inbox:bob", mock.Anything).Run(func(args mock.Arguments) {
		published <- args.Get(2).([]byte)
	}).Return(nil)

	deleted := make(chan struct{})
	mockMQ.On("Delete", mock.Anything, record).Run(func(args mock.Arguments) {
		close(deleted)
	}).Return(nil)

	go consumer.Run(context.Background())

	select {
	case msg := <-published:
		var notif models.Notification
		assert.NoError(t, json.Unmarshal(msg, &notif))
		assert.Equal(t, queued.Notification, notif)
	case <-time.After(1 * time.Second):
		assert.Fail(t, "timed out waiting for inbox publish")
	}

	select {
	case <-deleted:
	case <-time.After(1 * time.Second):
		assert.Fail(t, "timed out waiting for queue delete")
	}
}

func TestNotifyConsumer_DropsMalformedRecords(t *testing.T) {
	mockMQ := new(mqmocks.MockMQ)
	mockCache := new(cachemocks.MockCache)
	consumer := worker.NewNotifyConsumer(mockMQ, mockCache)

	record := &mq.Message{Id: "r1", Body: "{not json"}
	mockMQ.On("Receive", mock.Anything, mock.Anything).Return(record, nil).Once()
	mockMQ.On("Receive", mock.Anything, mock.Anything).Return(nil, context.Canceled)

	deleted := make(chan struct{})
	mockMQ.On("Delete", mock.Anything, record).Run(func(args mock.Arguments) {
		close(deleted)
	}).Return(nil)

	go consumer.Run(context.Background())

	// Deleted without a poison-pill retry loop
	select {
	case <-deleted:
	case <-time.After(1 * time.Second):
		assert.Fail(t, "timed out waiting for malformed record delete")
	}
	mockCache.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestNotifyConsumer_StopsOnShutdown(t *testing.T) {
	mockMQ := new(mqmocks.MockMQ)
	mockCache := new(cachemocks.MockCache)
	consumer := worker.NewNotifyConsumer(mockMQ, mockCache)

	mockMQ.On("Receive", mock.Anything, mock.Anything).Return(nil, context.Canceled)

	done := make(chan struct{})
	go func() {
		consumer.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		assert.Fail(t, "consumer did not stop on canceled context")
	}
}
