package chat_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/velora-app/chatcore/chat"
	"github.com/velora-app/chatcore/crypto"
	"github.com/velora-app/chatcore/models"
	"github.com/velora-app/chatcore/store"
	"github.com/velora-app/chatcore/worker"
)

func sendFixture(t *testing.T) (models.User, crypto.KeyPair, crypto.KeyPair) {
	alice := models.User{Id: "alice", DisplayName: "Alice", Credits: 5}
	aliceKp, err := crypto.GenerateKeyPair()
	assert.NoError(t, err)
	bobKp, err := crypto.GenerateKeyPair()
	assert.NoError(t, err)
	return alice, aliceKp, bobKp
}

func TestSendMessage_Success(t *testing.T) {
	svc, mockStore, mockCache, mockMQ, _ := setupService(t)
	ctx := context.Background()

	alice, aliceKp, bobKp := sendFixture(t)
	convId := "alice#bob"

	mockCache.On("AppendTranscript", ctx, convId, mock.Anything).Return(nil)

	existing := models.Conversation{Id: convId, Unread: map[string]int{"alice": 0, "bob": 1}}
	mockStore.On("GetConversation", ctx, convId).Return(existing, nil)

	var persisted models.Message
	mockStore.On("AppendMessage", ctx, convId, mock.Anything).Run(func(args mock.Arguments) {
		persisted = args.Get(2).(models.Message)
	}).Return("msg1", nil)

	mockStore.On("UpdateConversationMeta", ctx, convId, mock.Anything, mock.Anything).Return(nil)
	mockStore.On("AdjustCredits", ctx, "alice", -1).Return(4, nil)
	mockStore.On("SetUnreadCount", ctx, convId, "bob", 2).Return(nil)

	var queuedBody string
	mockMQ.On("Send", ctx, mock.Anything).Run(func(args mock.Arguments) {
		queuedBody = args.String(1)
	}).Return(nil)
	mockCache.On("Publish", ctx, "conv:"+convId, mock.Anything).Return(nil)

	provisionalId, err := svc.SendMessage(ctx, chat.SendParams{
		User:      alice,
		KeyPair:   aliceKp,
		PeerId:    "bob",
		PeerKey:   bobKp.Public,
		Plaintext: "hey bob",
	})

	assert.NoError(t, err)
	assert.NotEmpty(t, provisionalId)

	// Only ciphertext reaches the store; the recipient can open it
	assert.NotContains(t, persisted.Ciphertext, "hey bob")
	plaintext, err := crypto.Decrypt(persisted.Ciphertext, bobKp.Private)
	assert.NoError(t, err)
	assert.Equal(t, "hey bob", string(plaintext))

	// The queued notification addresses the recipient and carries a preview
	var queued worker.QueuedNotification
	assert.NoError(t, json.Unmarshal([]byte(queuedBody), &queued))
	assert.Equal(t, "bob", queued.RecipientId)
	assert.Equal(t, "alice", queued.Notification.SenderId)
	assert.Equal(t, "hey bob", queued.Notification.Message)
}

func TestSendMessage_ZeroCredits_NoEffects(t *testing.T) {
	svc, mockStore, mockCache, mockMQ, _ := setupService(t)
	ctx := context.Background()

	alice, aliceKp, bobKp := sendFixture(t)
	alice.Credits = 0

	_, err := svc.SendMessage(ctx, chat.SendParams{
		User:      alice,
		KeyPair:   aliceKp,
		PeerId:    "bob",
		PeerKey:   bobKp.Public,
		Plaintext: "hey bob",
	})

	assert.ErrorIs(t, err, chat.ErrInsufficientCredits)

	// The precondition fails before any write anywhere
	mockCache.AssertNotCalled(t, "AppendTranscript", mock.Anything, mock.Anything, mock.Anything)
	mockStore.AssertNotCalled(t, "AppendMessage", mock.Anything, mock.Anything, mock.Anything)
	mockStore.AssertNotCalled(t, "AdjustCredits", mock.Anything, mock.Anything, mock.Anything)
	mockStore.AssertNotCalled(t, "SetUnreadCount", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	mockMQ.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestSendMessage_MissingOwnKeys(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	alice, _, bobKp := sendFixture(t)

	_, err := svc.SendMessage(ctx, chat.SendParams{
		User:      alice,
		PeerId:    "bob",
		PeerKey:   bobKp.Public,
		Plaintext: "hey bob",
	})

	assert.ErrorIs(t, err, chat.ErrChatNotInitialized)
	mockStore.AssertNotCalled(t, "AppendMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendMessage_MissingPeerKey(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	alice, aliceKp, _ := sendFixture(t)

	mockStore.On("GetKeyRecord", ctx, "bob").Return(models.KeyRecord{}, store.ErrItemNotFound)

	_, err := svc.SendMessage(ctx, chat.SendParams{
		User:      alice,
		KeyPair:   aliceKp,
		PeerId:    "bob",
		Plaintext: "hey bob",
	})

	assert.ErrorIs(t, err, chat.ErrChatNotInitialized)
	mockCache.AssertNotCalled(t, "AppendTranscript", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendMessage_PersistFails_OptimisticEntryStays(t *testing.T) {
	svc, mockStore, mockCache, mockMQ, _ := setupService(t)
	ctx := context.Background()

	alice, aliceKp, bobKp := sendFixture(t)
	convId := "alice#bob"

	var optimistic models.ChatEntry
	mockCache.On("AppendTranscript", ctx, convId, mock.Anything).Run(func(args mock.Arguments) {
		optimistic = args.Get(2).(models.ChatEntry)
	}).Return(nil)

	mockStore.On("GetConversation", ctx, convId).Return(models.Conversation{Id: convId}, nil)
	mockStore.On("AppendMessage", ctx, convId, mock.Anything).Return("", errors.New("dynamodb unavailable"))

	provisionalId, err := svc.SendMessage(ctx, chat.SendParams{
		User:      alice,
		KeyPair:   aliceKp,
		PeerId:    "bob",
		PeerKey:   bobKp.Public,
		Plaintext: "hey bob",
	})

	assert.ErrorIs(t, err, chat.ErrSendFailed)

	// The optimistic entry was written before the failure and is not rolled
	// back; the caller owns the retry.
	assert.Equal(t, provisionalId, optimistic.Id)
	assert.True(t, optimistic.Pending)
	assert.Equal(t, "hey bob", optimistic.Text)

	// No downstream effects after the durable write failed
	mockStore.AssertNotCalled(t, "AdjustCredits", mock.Anything, mock.Anything, mock.Anything)
	mockStore.AssertNotCalled(t, "SetUnreadCount", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	mockMQ.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestSendMessage_MetadataFails_RestStillRuns(t *testing.T) {
	svc, mockStore, mockCache, mockMQ, _ := setupService(t)
	ctx := context.Background()

	alice, aliceKp, bobKp := sendFixture(t)
	convId := "alice#bob"

	mockCache.On("AppendTranscript", ctx, convId, mock.Anything).Return(nil)
	mockStore.On("GetConversation", ctx, convId).Return(models.Conversation{Id: convId, Unread: map[string]int{}}, nil)
	mockStore.On("AppendMessage", ctx, convId, mock.Anything).Return("msg1", nil)

	// Post-persistence steps are independent: a metadata failure must not
	// stop the debit, the unread bump, or the notification.
	mockStore.On("UpdateConversationMeta", ctx, convId, mock.Anything, mock.Anything).Return(errors.New("throttled"))
	mockStore.On("AdjustCredits", ctx, "alice", -1).Return(4, nil)
	mockStore.On("SetUnreadCount", ctx, convId, "bob", 1).Return(nil)
	mockMQ.On("Send", ctx, mock.Anything).Return(nil)
	mockCache.On("Publish", ctx, "conv:"+convId, mock.Anything).Return(nil)

	_, err := svc.SendMessage(ctx, chat.SendParams{
		User:      alice,
		KeyPair:   aliceKp,
		PeerId:    "bob",
		PeerKey:   bobKp.Public,
		Plaintext: "hey bob",
	})

	assert.ErrorIs(t, err, chat.ErrSendFailed)
	mockStore.AssertCalled(t, "AdjustCredits", ctx, "alice", -1)
	mockStore.AssertCalled(t, "SetUnreadCount", ctx, convId, "bob", 1)
	mockMQ.AssertCalled(t, "Send", ctx, mock.Anything)
}

func TestSendMessage_NotifyEnqueueFails_ReturnsSendFailed(t *testing.T) {
	svc, mockStore, mockCache, mockMQ, _ := setupService(t)
	ctx := context.Background()

	alice, aliceKp, bobKp := sendFixture(t)
	convId := "alice#bob"

	mockCache.On("AppendTranscript", ctx, convId, mock.Anything).Return(nil)
	mockStore.On("GetConversation", ctx, convId).Return(models.Conversation{Id: convId, Unread: map[string]int{}}, nil)
	mockStore.On("AppendMessage", ctx, convId, mock.Anything).Return("msg1", nil)
	mockStore.On("UpdateConversationMeta", ctx, convId, mock.Anything, mock.Anything).Return(nil)
	mockStore.On("AdjustCredits", ctx, "alice", -1).Return(4, nil)
	mockStore.On("SetUnreadCount", ctx, convId, "bob", 1).Return(nil)

	// A failed enqueue means the recipient never gets the toast; the caller
	// must see the degraded send even though the message itself is durable.
	mockMQ.On("Send", ctx, mock.Anything).Return(errors.New("sqs unavailable"))
	mockCache.On("Publish", ctx, "conv:"+convId, mock.Anything).Return(nil)

	_, err := svc.SendMessage(ctx, chat.SendParams{
		User:      alice,
		KeyPair:   aliceKp,
		PeerId:    "bob",
		PeerKey:   bobKp.Public,
		Plaintext: "hey bob",
	})

	assert.ErrorIs(t, err, chat.ErrSendFailed)
	// The nudge still goes out; subscribers sync from the store regardless
	mockCache.AssertCalled(t, "Publish", ctx, "conv:"+convId, mock.Anything)
}

func TestSendMessage_UnreadAccumulatesPerSend(t *testing.T) {
	svc, mockStore, mockCache, mockMQ, _ := setupService(t)
	ctx := context.Background()

	alice, aliceKp, bobKp := sendFixture(t)
	convId := "alice#bob"

	mockCache.On("AppendTranscript", ctx, convId, mock.Anything).Return(nil)
	mockStore.On("AppendMessage", ctx, convId, mock.Anything).Return("msg", nil)
	mockStore.On("UpdateConversationMeta", ctx, convId, mock.Anything, mock.Anything).Return(nil)
	mockStore.On("AdjustCredits", ctx, "alice", -1).Return(0, nil)
	mockMQ.On("Send", ctx, mock.Anything).Return(nil)
	mockCache.On("Publish", ctx, "conv:"+convId, mock.Anything).Return(nil)

	// The counter is read back before each bump. GetConversation serves both
	// the idempotent-create check and the unread read, hence two calls per
	// send.
	for i := 0; i < 3; i++ {
		mockStore.On("GetConversation", ctx, convId).Return(models.Conversation{
			Id:     convId,
			Unread: map[string]int{"bob": i},
		}, nil).Twice()
		mockStore.On("SetUnreadCount", ctx, convId, "bob", i+1).Return(nil).Once()

		_, err := svc.SendMessage(ctx, chat.SendParams{
			User:      alice,
			KeyPair:   aliceKp,
			PeerId:    "bob",
			PeerKey:   bobKp.Public,
			Plaintext: "ping",
		})
		assert.NoError(t, err)
	}

	mockStore.AssertCalled(t, "SetUnreadCount", ctx, convId, "bob", 3)
}
