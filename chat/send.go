package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/velora-app/chatcore/crypto"
	"github.com/velora-app/chatcore/models"
	"github.com/velora-app/chatcore/worker"
)

const previewLimit = 50

func previewText(text string) string {
	runes := []rune(text)
	if len(runes) <= previewLimit {
		return text
	}
	return string(runes[:previewLimit]) + "..."
}

type SendParams struct {
	User      models.User
	KeyPair   crypto.KeyPair
	PeerId    string
	PeerKey   crypto.PublicKey // resolved at conversation open; fetched here if zero
	Plaintext string
}

// SendMessage runs the encrypt -> persist -> metadata -> debit -> notify
// sequence. Preconditions are hard stops with no partial effect; after the
// optimistic append every step is best-effort with no rollback, each failure
// logged. The returned id is the provisional one the optimistic transcript
// entry carries.
func (s *Service) SendMessage(ctx context.Context, p SendParams) (string, error) {
	// Precondition 1: key material.
	if !p.KeyPair.Ready() {
		return "", fmt.Errorf("%w: local key pair missing", ErrChatNotInitialized)
	}
	if p.PeerKey.IsZero() {
		peerKey, err := s.Keys.FetchPeerPublicKey(ctx, p.PeerId)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrChatNotInitialized, err)
		}
		p.PeerKey = peerKey
	}

	// Precondition 2: credit balance. A zero balance must fail before any
	// write happens anywhere.
	if p.User.Credits <= 0 {
		return "", ErrInsufficientCredits
	}

	conversationId := ConversationID(p.User.Id, p.PeerId)
	timestamp := time.Now().UnixMilli()

	// Step 1: optimistic append for immediate UI feedback. From here on,
	// failures surface as ErrSendFailed but the entry is not retracted.
	provisionalId := conversationId + "-pending"
	if id, err := uuid.NewV4(); err == nil {
		provisionalId = id.String()
	}
	optimistic := models.ChatEntry{
		Id:         provisionalId,
		SenderId:   p.User.Id,
		ReceiverId: p.PeerId,
		Text:       p.Plaintext,
		Timestamp:  timestamp,
		Pending:    true,
	}
	if err := s.Cache.AppendTranscript(ctx, conversationId, optimistic); err != nil {
		log.Printf("Optimistic append for %s failed: %v", conversationId, err)
	}

	// Step 2: conversation metadata must exist (idempotent create).
	if _, err := s.EnsureConversation(ctx, p.User.Id, p.PeerId); err != nil {
		log.Printf("Ensure conversation %s failed: %v", conversationId, err)
		return provisionalId, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	// Step 3: encrypt and persist. Only ciphertext ever leaves the session.
	ciphertext, err := crypto.Encrypt([]byte(p.Plaintext), p.PeerKey)
	if err != nil {
		log.Printf("Encrypt for %s failed: %v", conversationId, err)
		return provisionalId, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	messageId, err := s.Store.AppendMessage(ctx, conversationId, models.Message{
		SenderId:   p.User.Id,
		ReceiverId: p.PeerId,
		Ciphertext: ciphertext,
		Timestamp:  timestamp,
	})
	if err != nil {
		log.Printf("Persist message in %s failed: %v", conversationId, err)
		return provisionalId, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	// The message is durable. The remaining steps are independent
	// best-effort writes; a failure is logged and the rest still run.
	var failed bool

	// Step 4: denormalized last-message preview.
	preview := models.LastMessage{
		Text:      previewText(p.Plaintext),
		SenderId:  p.User.Id,
		Timestamp: timestamp,
	}
	if err := s.Store.UpdateConversationMeta(ctx, conversationId, preview, timestamp); err != nil {
		log.Printf("Update metadata for %s failed: %v", conversationId, err)
		failed = true
	}

	// Step 5: debit exactly one credit, optimistically.
	if _, err := s.Store.AdjustCredits(ctx, p.User.Id, -1); err != nil {
		log.Printf("Credit debit for user %s failed: %v", p.User.Id, err)
		failed = true
	}

	// Step 6: bump the recipient's unread counter.
	if err := s.IncrementUnread(ctx, conversationId, p.PeerId); err != nil {
		log.Printf("Unread increment for user %s in %s failed: %v", p.PeerId, conversationId, err)
		failed = true
	}

	// Step 7: enqueue the recipient's notification and nudge subscribers.
	queued := worker.QueuedNotification{
		RecipientId: p.PeerId,
		Notification: models.Notification{
			Type:       "message",
			SenderId:   p.User.Id,
			SenderName: p.User.DisplayName,
			ChatId:     conversationId,
			Message:    preview.Text,
			Timestamp:  timestamp,
		},
	}
	if body, err := json.Marshal(queued); err != nil {
		log.Printf("Notification marshal for user %s failed: %v", p.PeerId, err)
		failed = true
	} else if err := s.MQ.Send(ctx, string(body)); err != nil {
		log.Printf("Notification enqueue for user %s failed: %v", p.PeerId, err)
		failed = true
	}
	if err := s.Cache.Publish(ctx, ConvChannel(conversationId), []byte(messageId)); err != nil {
		log.Printf("Nudge publish for %s failed: %v", conversationId, err)
	}

	if failed {
		return provisionalId, ErrSendFailed
	}
	return provisionalId, nil
}
