package ws

import (
	"context"
	"encoding/json"
	"log"

	"github.com/velora-app/chatcore/cache"
	"github.com/velora-app/chatcore/worker"
)

type inboxMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// inboxDelivery carries one wrapped notification from a redis subscription
// goroutine into the hub loop for fan-out.
type inboxDelivery struct {
	userId  string
	payload []byte
}

// Hub maintains the set of active clients and fans inbox notifications out
// to every connection the recipient holds. The client maps are touched only
// from Run; subscription callbacks hand deliveries over on inboxCh.
type Hub struct {
	chatCache         cache.ChatCache
	OpenCh            chan *Client
	CloseCh           chan *Client
	inboxCh           chan inboxDelivery
	userToClients     map[string]map[*Client]struct{}
	userToInboxCancel map[string]context.CancelFunc
}

func NewHub(chatCache cache.ChatCache) *Hub {
	return &Hub{
		chatCache:         chatCache,
		OpenCh:            make(chan *Client, 256),
		CloseCh:           make(chan *Client, 256),
		inboxCh:           make(chan inboxDelivery, 256),
		userToClients:     make(map[string]map[*Client]struct{}),
		userToInboxCancel: make(map[string]context.CancelFunc),
	}
}

const (
	maxConnectionsPerUser         = 3
	maxConversationsPerConnection = 50
)

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.OpenCh:
			if _, ok := h.userToClients[client.user.Id]; !ok {
				h.userToClients[client.user.Id] = make(map[*Client]struct{})
			}

			if len(h.userToClients[client.user.Id]) >= maxConnectionsPerUser {
				log.Printf("User %s reached max connections (%d)", client.user.Id, maxConnectionsPerUser)
				close(client.Send)
				continue
			}

			// First connection for this user opens the inbox subscription;
			// later connections share it.
			if len(h.userToClients[client.user.Id]) == 0 {
				ctx, cancel := context.WithCancel(context.Background())
				userId := client.user.Id
				channel := worker.InboxChannel(userId)

				err := h.chatCache.Subscribe(ctx, channel, func(messageBytes []byte) {
					msg := inboxMessage{Type: "notification", Data: messageBytes}
					msgBytes, err := json.Marshal(msg)
					if err != nil {
						log.Printf("Failed to marshal inbox notification for user %s: %v", userId, err)
						return
					}
					h.inboxCh <- inboxDelivery{userId: userId, payload: msgBytes}
				})
				if err != nil {
					log.Printf("Failed to create redis sub for channel %s: %v", channel, err)
					cancel()
					close(client.Send)
					continue
				}
				h.userToInboxCancel[userId] = cancel
			}

			h.userToClients[client.user.Id][client] = struct{}{}

		case delivery := <-h.inboxCh:
			for client := range h.userToClients[delivery.userId] {
				// The hub loop must never block on a slow connection
				select {
				case client.Send <- delivery.payload:
				default:
					log.Printf("Dropping inbox notification for user %s: send buffer full", delivery.userId)
				}
			}

		case client := <-h.CloseCh:
			delete(h.userToClients[client.user.Id], client)
			if len(h.userToClients[client.user.Id]) == 0 {
				if cancel, ok := h.userToInboxCancel[client.user.Id]; ok {
					cancel()
					delete(h.userToInboxCancel, client.user.Id)
				}
				delete(h.userToClients, client.user.Id)
			}
		}
	}
}
