package worker

import (
	"context"
	"log"
	"time"

	"github.com/velora-app/chatcore/store"
)

// ReadReceipt asks for a set of inbound messages to be flipped read=true and
// the reader's unread counter reset to zero.
type ReadReceipt struct {
	ConversationId string
	UserId         string
	MessageIds     []string
}

// ReceiptBatcher coalesces read receipts per conversation/reader so that one
// snapshot's worth of unread messages becomes a single batched store update.
type ReceiptBatcher struct {
	FlipCh             chan ReadReceipt
	chatStore          store.ChatStore
	tickerMilliseconds int
}

func NewReceiptBatcher(chatStore store.ChatStore, tickerMilliseconds int) *ReceiptBatcher {
	return &ReceiptBatcher{
		FlipCh:             make(chan ReadReceipt, 1024),
		chatStore:          chatStore,
		tickerMilliseconds: tickerMilliseconds,
	}
}

func (b *ReceiptBatcher) Run(shutdownCtx context.Context) {
	ticker := time.NewTicker(time.Duration(b.tickerMilliseconds) * time.Millisecond)
	defer ticker.Stop()

	// Key: "conversationId#userId" -> pending receipt with deduped ids
	pending := make(map[string]ReadReceipt)
	seen := make(map[string]map[string]struct{})

	flush := func() {
		for key, receipt := range pending {
			go func(r ReadReceipt) {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := b.chatStore.MarkMessagesRead(ctx, r.ConversationId, r.MessageIds); err != nil {
					log.Printf("Failed to mark %d messages read in %s: %v", len(r.MessageIds), r.ConversationId, err)
					return
				}
				if err := b.chatStore.SetUnreadCount(ctx, r.ConversationId, r.UserId, 0); err != nil {
					log.Printf("Failed to reset unread count for user %s in %s: %v", r.UserId, r.ConversationId, err)
				}
			}(receipt)
			delete(pending, key)
			delete(seen, key)
		}
	}

	for {
		select {
		case receipt := <-b.FlipCh:
			key := receipt.ConversationId + "#" + receipt.UserId
			cur, ok := pending[key]
			if !ok {
				cur = ReadReceipt{ConversationId: receipt.ConversationId, UserId: receipt.UserId}
				seen[key] = make(map[string]struct{})
			}
			for _, id := range receipt.MessageIds {
				if _, dup := seen[key][id]; dup {
					continue
				}
				seen[key][id] = struct{}{}
				cur.MessageIds = append(cur.MessageIds, id)
			}
			pending[key] = cur

			if len(pending) >= 100 {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-shutdownCtx.Done():
			flush()
			return
		}
	}
}
