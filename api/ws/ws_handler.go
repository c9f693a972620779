package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/velora-app/chatcore/chat"
	"github.com/velora-app/chatcore/crypto"
)

type Handler struct {
	Service *chat.Service
	Hub     *Hub
}

func NewHandler(svc *chat.Service, hub *Hub) *Handler {
	return &Handler{
		Service: svc,
		Hub:     hub,
	}
}

func (h *Handler) NewWsUpgrader(requiredOrigin string) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == requiredOrigin
		},
		Subprotocols: []string{"velora-chat-v1"},
	}
}

// ServeWS handles websocket requests from the peer.
func (h *Handler) ServeWS(wsUpgrader websocket.Upgrader, w http.ResponseWriter, r *http.Request, shutdownCtx context.Context) {
	protocols := r.Header.Get("Sec-WebSocket-Protocol")
	protocolsSplit := strings.Split(protocols, ",")

	if len(protocolsSplit) != 2 {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	token := strings.TrimSpace(protocolsSplit[1])

	user, authErr := h.Service.AuthenticateToken(r.Context(), token)

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade ws connection: %v", err)
		return
	}

	// Must upgrade the connection in order to be able to send custom close message
	if authErr != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Unauthenticated"),
		)
		conn.Close()
		return
	}

	// Session key material is created per connection and held in memory
	// only; closing the socket discards the private key.
	keyPair, err := h.Service.Keys.EnsureKeyPair(r.Context(), user.Id)
	if err != nil {
		log.Printf("Key setup for user %s failed: %v", user.Id, err)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "Key setup failed"),
		)
		conn.Close()
		return
	}

	client := NewClient(h.Hub, conn, user, keyPair, h.HandleWsMessage)

	h.Hub.OpenCh <- client

	// Start pumps
	go client.ReadPump()
	go client.WritePump(shutdownCtx)

	// Tell the frontend which public key this session publishes and how
	// many credits the account holds.
	ready := responseMessage{
		Type: "session_ready",
		Data: map[string]any{
			"publicKey": crypto.EncodePublicKey(keyPair.Public),
			"credits":   user.Credits,
		},
	}
	if msgBytes, err := json.Marshal(ready); err == nil {
		client.Send <- msgBytes
	} else {
		log.Printf("Failed to marshal session ready message: %v", err)
	}
}

// Websocket message structs
type message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type peerMessage struct {
	PeerId string `json:"peerId"`
}

type sendMessage struct {
	PeerId string `json:"peerId"`
	Text   string `json:"text"`
}

type responseMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func (h *Handler) HandleWsMessage(client *Client, messageType int, messageBytes []byte) {
	var msg message
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		log.Printf("Invalid JSON: %v", err)
		return
	}

	var resp responseMessage

	switch msg.Type {
	case "open":
		var peerMsg peerMessage
		if err := json.Unmarshal(msg.Data, &peerMsg); err != nil {
			log.Printf("Invalid open data: %v", err)
			return
		}
		resp = h.handleOpen(client, peerMsg)

	case "close":
		var peerMsg peerMessage
		if err := json.Unmarshal(msg.Data, &peerMsg); err != nil {
			log.Printf("Invalid close data: %v", err)
			return
		}
		resp = h.handleClose(client, peerMsg)

	case "send":
		var sendMsg sendMessage
		if err := json.Unmarshal(msg.Data, &sendMsg); err != nil {
			log.Printf("Invalid send data: %v", err)
			return
		}
		resp = h.handleSend(client, sendMsg)

	case "mark_read":
		var peerMsg peerMessage
		if err := json.Unmarshal(msg.Data, &peerMsg); err != nil {
			log.Printf("Invalid mark_read data: %v", err)
			return
		}
		resp = h.handleMarkRead(client, peerMsg)

	default:
		log.Printf("Unknown message type: %v", msg.Type)
	}

	if resp.Type != "" {
		respBytes, err := json.Marshal(resp)
		if err != nil {
			log.Printf("Error marshaling response JSON: %v", err)
			return
		}
		client.Send <- respBytes
	}
}

func (h *Handler) handleOpen(client *Client, peerMsg peerMessage) responseMessage {
	resp := responseMessage{
		Type: "open_response",
	}

	conversationId := chat.ConversationID(client.user.Id, peerMsg.PeerId)
	if _, ok := client.conversations[conversationId]; ok {
		resp.Data = map[string]any{"success": true, "peerId": peerMsg.PeerId, "conversationId": conversationId}
		return resp
	}

	if len(client.conversations) >= maxConversationsPerConnection {
		log.Printf("Connection by user %s reached max open conversations (%d)", client.user.Id, maxConversationsPerConnection)
		resp.Data = map[string]any{"success": false, "error": "too many open conversations", "peerId": peerMsg.PeerId}
		return resp
	}

	sub, err := h.Service.OpenConversation(context.Background(), client.user.Id, client.keyPair, peerMsg.PeerId)
	if err != nil {
		log.Printf("OpenConversation failed: %v", err)
		resp.Data = map[string]any{"success": false, "error": err.Error(), "peerId": peerMsg.PeerId}
		return resp
	}

	client.conversations[conversationId] = sub
	go h.forwardConversation(client, sub)

	resp.Data = map[string]any{"success": true, "peerId": peerMsg.PeerId, "conversationId": conversationId}
	return resp
}

// forwardConversation relays snapshots and alerts from one subscription to
// the socket until either side closes.
func (h *Handler) forwardConversation(client *Client, sub *chat.Subscription) {
	for {
		var resp responseMessage

		select {
		case entries := <-sub.Snapshots():
			resp = responseMessage{
				Type: "snapshot",
				Data: map[string]any{"conversationId": sub.ConversationId, "entries": entries},
			}

		case notif := <-sub.Alerts():
			resp = responseMessage{Type: "alert", Data: notif}

		case <-sub.Done():
			return

		case <-client.ctx.Done():
			return
		}

		respBytes, err := json.Marshal(resp)
		if err != nil {
			log.Printf("Error marshaling %s JSON: %v", resp.Type, err)
			continue
		}
		client.Send <- respBytes
	}
}

func (h *Handler) handleClose(client *Client, peerMsg peerMessage) responseMessage {
	resp := responseMessage{
		Type: "close_response",
	}

	conversationId := chat.ConversationID(client.user.Id, peerMsg.PeerId)
	sub, ok := client.conversations[conversationId]
	if !ok {
		resp.Data = map[string]any{"success": false, "error": "conversation not open", "peerId": peerMsg.PeerId}
		return resp
	}

	sub.Close()
	delete(client.conversations, conversationId)
	resp.Data = map[string]any{"success": true, "peerId": peerMsg.PeerId, "conversationId": conversationId}
	return resp
}

func (h *Handler) handleSend(client *Client, sendMsg sendMessage) responseMessage {
	resp := responseMessage{
		Type: "send_response",
	}

	messageId, err := h.Service.SendMessage(context.Background(), chat.SendParams{
		User:      client.user,
		KeyPair:   client.keyPair,
		PeerId:    sendMsg.PeerId,
		Plaintext: sendMsg.Text,
	})

	if err != nil {
		log.Printf("SendMessage failed: %v", err)
		resp.Data = map[string]any{
			"success":   false,
			"error":     err.Error(),
			"retryable": errors.Is(err, chat.ErrSendFailed),
			"peerId":    sendMsg.PeerId,
			"messageId": messageId,
		}
		return resp
	}

	// The balance snapshot gates the next send on this connection; the
	// authoritative debit already happened in the store.
	client.user.Credits--

	resp.Data = map[string]any{
		"success":   true,
		"peerId":    sendMsg.PeerId,
		"messageId": messageId,
		"credits":   client.user.Credits,
	}
	return resp
}

func (h *Handler) handleMarkRead(client *Client, peerMsg peerMessage) responseMessage {
	resp := responseMessage{
		Type: "mark_read_response",
	}

	conversationId := chat.ConversationID(client.user.Id, peerMsg.PeerId)
	if err := h.Service.MarkConversationRead(context.Background(), conversationId, client.user.Id); err != nil {
		log.Printf("MarkConversationRead failed: %v", err)
		resp.Data = map[string]any{"success": false, "error": err.Error(), "peerId": peerMsg.PeerId}
		return resp
	}

	resp.Data = map[string]any{"success": true, "peerId": peerMsg.PeerId, "conversationId": conversationId}
	return resp
}
