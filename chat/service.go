package chat

import (
	"errors"

	"github.com/velora-app/chatcore/cache"
	"github.com/velora-app/chatcore/keys"
	"github.com/velora-app/chatcore/mq"
	"github.com/velora-app/chatcore/store"
	"github.com/velora-app/chatcore/worker"
	"golang.org/x/oauth2"
)

var (
	// ErrChatNotInitialized: keys or subscription not ready. Surfaced to the
	// caller, no automatic retry.
	ErrChatNotInitialized = errors.New("chat not initialized")
	// ErrInsufficientCredits is user-actionable, not a bug; the caller
	// routes the user to a top-up flow.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrSendFailed covers any failure after the optimistic local append.
	// The optimistic entry stays in place; the caller retries manually.
	ErrSendFailed = errors.New("failed to send message")
)

// PlaceholderUndecryptable replaces message text that cannot be decrypted.
// The row stays in the transcript at its timestamp position so ordering and
// counts hold.
const PlaceholderUndecryptable = "message cannot be decrypted"

type Service struct {
	Store        store.ChatStore
	Cache        cache.ChatCache
	MQ           mq.MessageQueue
	Keys         *keys.Service
	Receipts     *worker.ReceiptBatcher
	OAuthConfigs map[string]*oauth2.Config
	JWTSecret    []byte
}

func NewService(
	chatStore store.ChatStore,
	chatCache cache.ChatCache,
	notificationQueue mq.MessageQueue,
	keyService *keys.Service,
	receipts *worker.ReceiptBatcher,
	oauthConfigs map[string]*oauth2.Config,
	jwtSecret []byte,
) (*Service, error) {
	oauthConfigs, err := addOauthEndpointsAndScopes(oauthConfigs)
	if err != nil {
		return nil, err
	}

	return &Service{
		Store:        chatStore,
		Cache:        chatCache,
		MQ:           notificationQueue,
		Keys:         keyService,
		Receipts:     receipts,
		OAuthConfigs: oauthConfigs,
		JWTSecret:    jwtSecret,
	}, nil
}
