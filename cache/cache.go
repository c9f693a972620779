package cache

import (
	"context"

	"github.com/velora-app/chatcore/models"
)

// ChatCache is the best-effort local mirror of decrypted transcripts plus
// the pub/sub transport used for conversation nudges and inbox fan-out.
// It is a latency/offline-readability optimization, never a durability
// guarantee; the remote store stays the source of truth.
type ChatCache interface {
	Publish(ctx context.Context, channel string, message []byte) error
	Subscribe(ctx context.Context, channel string, handler func(message []byte)) error

	// GetTranscript returns nil entries and nil error on a cache miss.
	GetTranscript(ctx context.Context, conversationId string) ([]models.ChatEntry, error)
	SetTranscript(ctx context.Context, conversationId string, entries []models.ChatEntry) error
	AppendTranscript(ctx context.Context, conversationId string, entry models.ChatEntry) error
	InvalidateConversation(ctx context.Context, conversationId string) error
}
