package chat

import (
	"context"
)

// Unread bookkeeping is eventually consistent per observed snapshot, not
// linearizable: Increment is read-then-write and can under-count under
// truly concurrent senders. That matches the upstream design; no locking
// is added here (see DESIGN.md).

// MarkConversationRead resets userId's unread counter after a read batch.
func (s *Service) MarkConversationRead(ctx context.Context, conversationId string, userId string) error {
	return s.Store.SetUnreadCount(ctx, conversationId, userId, 0)
}

// IncrementUnread bumps userId's unread counter by one, once per
// successfully sent message.
func (s *Service) IncrementUnread(ctx context.Context, conversationId string, userId string) error {
	conv, err := s.Store.GetConversation(ctx, conversationId)
	if err != nil {
		return err
	}
	return s.Store.SetUnreadCount(ctx, conversationId, userId, conv.Unread[userId]+1)
}
