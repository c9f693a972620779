package chat

import (
	"context"
	"errors"
	"time"

	"github.com/velora-app/chatcore/models"
	"github.com/velora-app/chatcore/store"
)

// ConversationID derives the canonical thread id for two users. Both sides
// compute the same value independently: the pair is sorted before joining.
func ConversationID(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return userA + "#" + userB
}

// ConvChannel is the pub/sub channel carrying snapshot nudges for a
// conversation.
func ConvChannel(conversationId string) string {
	return "conv:" + conversationId
}

// EnsureConversation creates the metadata record if it does not exist yet.
// Creation is idempotent: an existing record is never overwritten. Two first
// messages racing to create the same canonical id is benign; the loser's
// conditional put fails against already-correct data.
func (s *Service) EnsureConversation(ctx context.Context, userA, userB string) (models.Conversation, error) {
	conversationId := ConversationID(userA, userB)

	conv, err := s.Store.GetConversation(ctx, conversationId)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrItemNotFound) {
		return models.Conversation{}, err
	}

	if userB < userA {
		userA, userB = userB, userA
	}
	now := time.Now().UnixMilli()
	conv = models.Conversation{
		Id:           conversationId,
		Participants: []string{userA, userB},
		Created:      now,
		Updated:      now,
		Unread:       map[string]int{userA: 0, userB: 0},
	}

	err = s.Store.CreateConversation(ctx, conv)
	if err != nil && !errors.Is(err, store.ErrConditionFailed) {
		return models.Conversation{}, err
	}
	return conv, nil
}
