package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/velora-app/chatcore/cache"
	"github.com/velora-app/chatcore/models"
	"github.com/velora-app/chatcore/mq"
)

// QueuedNotification is the envelope MessageSender enqueues for the
// recipient; the external push pipeline consumes the same queue.
type QueuedNotification struct {
	RecipientId  string              `json:"recipientId"`
	Notification models.Notification `json:"notification"`
}

// NotifyConsumer drains the notification queue and republishes each record
// on the recipient's inbox pub/sub channel so connected clients get an
// in-app alert. Device push delivery is handled downstream, not here.
type NotifyConsumer struct {
	notificationQueue mq.MessageQueue
	chatCache         cache.ChatCache
}

func NewNotifyConsumer(notificationQueue mq.MessageQueue, chatCache cache.ChatCache) *NotifyConsumer {
	return &NotifyConsumer{
		notificationQueue: notificationQueue,
		chatCache:         chatCache,
	}
}

const visibilityTimeout = 30

func InboxChannel(userId string) string {
	return "inbox:" + userId
}

func (c *NotifyConsumer) Run(shutdownCtx context.Context) {
	for {
		msg, err := c.notificationQueue.Receive(shutdownCtx, visibilityTimeout)

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			log.Printf("notifyConsumer receive error: %v", err)
			continue
		}

		if msg == nil {
			continue
		}

		var queued QueuedNotification
		if err := json.Unmarshal([]byte(msg.Body), &queued); err != nil {
			log.Printf("notifyConsumer dropping malformed record: %v", err)
			// Malformed records are deleted, not retried forever.
			c.notificationQueue.Delete(context.Background(), msg)
			continue
		}

		// timeout should be a little less than queue visibility timeout
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(visibilityTimeout-1)*time.Second)
		if notifBytes, err := json.Marshal(queued.Notification); err != nil {
			log.Printf("notifyConsumer marshal for %s failed: %v", queued.RecipientId, err)
		} else if err := c.chatCache.Publish(ctx, InboxChannel(queued.RecipientId), notifBytes); err != nil {
			log.Printf("notifyConsumer publish to %s failed: %v", queued.RecipientId, err)
		}
		cancel()

		if err := c.notificationQueue.Delete(context.Background(), msg); err != nil {
			log.Printf("notifyConsumer delete error: %v", err)
		}
	}
}
