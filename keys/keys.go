package keys

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/velora-app/chatcore/crypto"
	"github.com/velora-app/chatcore/models"
	"github.com/velora-app/chatcore/store"
)

// ErrKeyNotFound means the peer has not published a public key yet.
// Terminal for that conversation until the peer initializes.
var ErrKeyNotFound = errors.New("peer public key not found")

const (
	putAttempts    = 3
	putBaseBackoff = 200 * time.Millisecond
)

// Service manages per-user key pairs against the public-key directory.
type Service struct {
	Store store.ChatStore
}

func NewService(chatStore store.ChatStore) *Service {
	return &Service{Store: chatStore}
}

// EnsureKeyPair returns the key pair for userId, initializing the directory
// entry on first use.
//
// When a directory entry already exists, the stored public key is reused and
// paired with a freshly generated private key. Messages sealed to the old
// public key from a prior session are therefore unreadable after
// re-initialization; this mirrors the upstream behavior and is kept as-is
// (see DESIGN.md). If the stored entry cannot be decoded, it is overwritten
// with a new pair and a warning is logged.
func (s *Service) EnsureKeyPair(ctx context.Context, userId string) (crypto.KeyPair, error) {
	rec, err := s.Store.GetKeyRecord(ctx, userId)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return s.publishFreshPair(ctx, userId)
		}
		return crypto.KeyPair{}, fmt.Errorf("key directory read failed: %w", err)
	}

	pub, err := crypto.DecodePublicKey(rec.PublicKey)
	if err != nil {
		log.Printf("Stored public key for user %s is unreadable, regenerating: %v", userId, err)
		return s.publishFreshPair(ctx, userId)
	}

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return crypto.KeyPair{}, err
	}
	// Keep the published public half, pair it with this session's private key.
	kp.Public = pub
	return kp, nil
}

// FetchPeerPublicKey resolves a peer's published public key. No retry: an
// absent entry is a blocking precondition the caller must surface.
func (s *Service) FetchPeerPublicKey(ctx context.Context, peerId string) (crypto.PublicKey, error) {
	rec, err := s.Store.GetKeyRecord(ctx, peerId)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return crypto.PublicKey{}, fmt.Errorf("%w: user %s", ErrKeyNotFound, peerId)
		}
		return crypto.PublicKey{}, fmt.Errorf("key directory read failed: %w", err)
	}

	pub, err := crypto.DecodePublicKey(rec.PublicKey)
	if err != nil {
		return crypto.PublicKey{}, fmt.Errorf("%w: user %s has an unreadable entry", ErrKeyNotFound, peerId)
	}
	return pub, nil
}

func (s *Service) publishFreshPair(ctx context.Context, userId string) (crypto.KeyPair, error) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return crypto.KeyPair{}, err
	}

	if err := s.putWithRetry(ctx, userId, kp.Public); err != nil {
		// Directory write keeps failing: regenerate once and try again
		// before giving up.
		log.Printf("Publishing public key for user %s failed, regenerating: %v", userId, err)
		kp, err = crypto.GenerateKeyPair()
		if err != nil {
			return crypto.KeyPair{}, err
		}
		if err := s.putWithRetry(ctx, userId, kp.Public); err != nil {
			return crypto.KeyPair{}, fmt.Errorf("key directory write failed: %w", err)
		}
	}
	return kp, nil
}

func (s *Service) putWithRetry(ctx context.Context, userId string, pub crypto.PublicKey) error {
	rec := models.KeyRecord{
		UserId:    userId,
		PublicKey: crypto.EncodePublicKey(pub),
		Updated:   time.Now().UnixMilli(),
	}

	backoff := putBaseBackoff
	var lastErr error
	for attempt := 0; attempt < putAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			backoff *= 2
		}

		if lastErr = s.Store.PutKeyRecord(ctx, rec); lastErr == nil {
			return nil
		}
		log.Printf("PutKeyRecord attempt %d for user %s failed: %v", attempt+1, userId, lastErr)
	}
	return lastErr
}
