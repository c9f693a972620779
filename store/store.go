package store

import (
	"context"
	"errors"

	"github.com/velora-app/chatcore/models"
)

// ChatStore is the remote source of truth: conversations, messages, the
// public-key directory, user profiles and the credit ledger client surface.
type ChatStore interface {
	// User directory
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	GetUser(ctx context.Context, userId string) (models.User, error)
	GetUserByProvider(ctx context.Context, provider string, providerId string) (models.User, error)
	AdjustCredits(ctx context.Context, userId string, delta int) (int, error)

	// Public-key directory
	GetKeyRecord(ctx context.Context, userId string) (models.KeyRecord, error)
	PutKeyRecord(ctx context.Context, rec models.KeyRecord) error

	// Conversations and messages
	GetConversation(ctx context.Context, conversationId string) (models.Conversation, error)
	CreateConversation(ctx context.Context, conv models.Conversation) error
	UpdateConversationMeta(ctx context.Context, conversationId string, last models.LastMessage, updated int64) error
	SetUnreadCount(ctx context.Context, conversationId string, userId string, count int) error
	AppendMessage(ctx context.Context, conversationId string, msg models.Message) (string, error)
	GetMessages(ctx context.Context, conversationId string) ([]models.Message, error)
	MarkMessagesRead(ctx context.Context, conversationId string, messageIds []string) error
}

// Custom error types for clarity
var (
	ErrItemNotFound    = errors.New("item does not exist")
	ErrConditionFailed = errors.New("condition not met")
)
