package chat

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/velora-app/chatcore/crypto"
	"github.com/velora-app/chatcore/models"
	"github.com/velora-app/chatcore/worker"
)

// Inbound messages older than this window never trigger an alert; it guards
// against re-notifying on cold-start snapshot replay.
const recentInboundWindow = 10 * time.Second

const snapshotBuffer = 8

// Subscription is one user's live view of one conversation. Snapshots are
// total views delivered in the order the store emits nudges; the last one
// wins for cache contents.
type Subscription struct {
	ConversationId string

	svc     *Service
	userId  string
	keyPair crypto.KeyPair
	peerPub crypto.PublicKey

	snapshots chan []models.ChatEntry
	alerts    chan models.Notification

	ctx    context.Context
	cancel context.CancelFunc

	// Timestamp of the newest inbound message already alerted. The initial
	// sync and nudge-driven syncs can overlap, so alertMu guards it.
	alertMu        sync.Mutex
	alertedThrough int64
}

// OpenConversation wires up a live subscription for userId's conversation
// with peerId. Both the local key pair and the peer's published public key
// are hard prerequisites; a missing peer key is terminal for the
// conversation until the peer initializes.
func (s *Service) OpenConversation(ctx context.Context, userId string, kp crypto.KeyPair, peerId string) (*Subscription, error) {
	if !kp.Ready() {
		return nil, fmt.Errorf("%w: local key pair missing", ErrChatNotInitialized)
	}

	peerPub, err := s.Keys.FetchPeerPublicKey(ctx, peerId)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChatNotInitialized, err)
	}

	conversationId := ConversationID(userId, peerId)
	subCtx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		ConversationId: conversationId,
		svc:            s,
		userId:         userId,
		keyPair:        kp,
		peerPub:        peerPub,
		snapshots:      make(chan []models.ChatEntry, snapshotBuffer),
		alerts:         make(chan models.Notification, snapshotBuffer),
		ctx:            subCtx,
		cancel:         cancel,
	}

	// Cached transcript first, before the remote store answers, so the view
	// never opens blank when offline or slow.
	if cached, err := s.Cache.GetTranscript(ctx, conversationId); err == nil && len(cached) > 0 {
		sub.deliver(cached)
	}

	if err := s.Cache.Subscribe(subCtx, ConvChannel(conversationId), func([]byte) {
		sub.syncOnce(subCtx)
	}); err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe to conversation %s failed: %w", conversationId, err)
	}

	// Initial sync; later ones arrive via nudges.
	go sub.syncOnce(subCtx)

	return sub, nil
}

func (sub *Subscription) Snapshots() <-chan []models.ChatEntry {
	return sub.snapshots
}

// Alerts emits one notification per genuinely-new inbound message.
func (sub *Subscription) Alerts() <-chan models.Notification {
	return sub.alerts
}

func (sub *Subscription) Done() <-chan struct{} {
	return sub.ctx.Done()
}

// Close tears down the remote subscription. In-flight sends are unaffected;
// the remote store remains the source of truth, so nothing is lost.
func (sub *Subscription) Close() {
	sub.cancel()
}

type entryKey struct {
	senderId  string
	timestamp int64
}

// syncOnce runs the merge protocol against a full snapshot of the remote
// message collection. Overlapping invocations are not coalesced; each
// processes a total view, so the last writer leaves the cache correct.
func (sub *Subscription) syncOnce(ctx context.Context) {
	msgs, err := sub.svc.Store.GetMessages(ctx, sub.ConversationId)
	if err != nil {
		log.Printf("Sync of conversation %s failed: %v", sub.ConversationId, err)
		return
	}

	// The prior transcript holds the pre-encryption plaintext of our own
	// sends; ciphertext sealed to the peer cannot be opened with our key.
	prior, err := sub.svc.Cache.GetTranscript(ctx, sub.ConversationId)
	if err != nil {
		log.Printf("Transcript cache read for %s failed: %v", sub.ConversationId, err)
	}
	ownPlaintext := make(map[entryKey]string, len(prior))
	for _, e := range prior {
		if e.SenderId == sub.userId && e.Text != PlaceholderUndecryptable {
			ownPlaintext[entryKey{e.SenderId, e.Timestamp}] = e.Text
		}
	}

	entries := make([]models.ChatEntry, 0, len(msgs))
	confirmed := make(map[entryKey]struct{}, len(msgs))
	var unreadIds []string

	for _, m := range msgs {
		e := models.ChatEntry{
			Id:         m.Id,
			SenderId:   m.SenderId,
			ReceiverId: m.ReceiverId,
			Timestamp:  m.Timestamp,
			Read:       m.Read,
		}

		if m.ReceiverId == sub.userId {
			plaintext, err := crypto.Decrypt(m.Ciphertext, sub.keyPair.Private)
			if err != nil {
				log.Printf("Cannot decrypt message %s in %s: %v", m.Id, sub.ConversationId, err)
				e.Text = PlaceholderUndecryptable
			} else {
				e.Text = string(plaintext)
			}
			if !m.Read {
				unreadIds = append(unreadIds, m.Id)
			}
		} else {
			if text, ok := ownPlaintext[entryKey{m.SenderId, m.Timestamp}]; ok {
				e.Text = text
			} else {
				e.Text = PlaceholderUndecryptable
			}
		}

		confirmed[entryKey{m.SenderId, m.Timestamp}] = struct{}{}
		entries = append(entries, e)
	}

	// Optimistic sends not yet visible in the snapshot stay in the
	// transcript; they reconcile by sender+timestamp, never array position.
	for _, e := range prior {
		if !e.Pending {
			continue
		}
		if _, ok := confirmed[entryKey{e.SenderId, e.Timestamp}]; !ok {
			entries = append(entries, e)
		}
	}

	// Timestamp is the sole ordering key; ties keep arrival order.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp < entries[j].Timestamp
	})

	if err := sub.svc.Cache.SetTranscript(ctx, sub.ConversationId, entries); err != nil {
		log.Printf("Transcript cache write for %s failed: %v", sub.ConversationId, err)
	}

	sub.alertNewInbound(ctx, entries)
	sub.deliver(entries)

	if len(unreadIds) > 0 {
		sub.svc.Receipts.FlipCh <- worker.ReadReceipt{
			ConversationId: sub.ConversationId,
			UserId:         sub.userId,
			MessageIds:     unreadIds,
		}
	}
}

// alertNewInbound fires a notification for the newest inbound message when
// it falls inside the recency window and has not been alerted yet. Each
// message alerts at most once, no matter how many syncs observe it.
func (sub *Subscription) alertNewInbound(ctx context.Context, entries []models.ChatEntry) {
	var latest *models.ChatEntry
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].ReceiverId == sub.userId {
			latest = &entries[i]
			break
		}
	}
	if latest == nil {
		return
	}

	sub.alertMu.Lock()
	defer sub.alertMu.Unlock()
	if latest.Timestamp <= sub.alertedThrough {
		return
	}
	if time.Since(time.UnixMilli(latest.Timestamp)) > recentInboundWindow {
		sub.alertedThrough = latest.Timestamp
		return
	}
	sub.alertedThrough = latest.Timestamp

	senderName := "Someone"
	if sender, err := sub.svc.Store.GetUser(ctx, latest.SenderId); err == nil && sender.DisplayName != "" {
		senderName = sender.DisplayName
	}

	notif := models.Notification{
		Type:       "message",
		SenderId:   latest.SenderId,
		SenderName: senderName,
		ChatId:     sub.ConversationId,
		Message:    previewText(latest.Text),
		Timestamp:  latest.Timestamp,
	}

	select {
	case sub.alerts <- notif:
	default:
		log.Printf("Dropping alert for conversation %s: consumer too slow", sub.ConversationId)
	}
}

// deliver pushes a snapshot without ever blocking the sync path; if the
// consumer lags, the oldest buffered snapshot is discarded. Each snapshot
// is total, so dropping an old one loses nothing.
func (sub *Subscription) deliver(entries []models.ChatEntry) {
	for {
		select {
		case sub.snapshots <- entries:
			return
		default:
			select {
			case <-sub.snapshots:
			default:
			}
		}
	}
}
