package redis

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/velora-app/chatcore/models"
)

type RedisChatCache struct {
	client redis.UniversalClient
}

func NewRedisChatCache(ctx context.Context, devMode bool, redisEndpoint string) (*RedisChatCache, error) {
	var client redis.UniversalClient
	if devMode {
		client = redis.NewClient(&redis.Options{
			Addr: redisEndpoint,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr: redisEndpoint,
			// AWS elasticache endpoints require TLS
			TLSConfig: &tls.Config{},
		})
	}

	err := client.Ping(ctx).Err()
	if err != nil {
		return nil, err
	}

	return &RedisChatCache{client: client}, nil
}

func (c *RedisChatCache) Publish(ctx context.Context, channel string, message []byte) error {
	return c.client.Publish(ctx, channel, message).Err()
}

func (c *RedisChatCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	pubsub := c.client.Subscribe(ctx, channel)
	// Ensure subscription is established
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		log.Printf("Pubsub channel closed: %s", channel)
		return err
	}

	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()

	return nil
}

// Hash tag on the conversation id keeps all of a conversation's keys in the
// same slot under Redis Cluster.
func buildTranscriptKey(conversationId string) string {
	return "conv:{" + conversationId + "}:transcript"
}

const cacheTTL = 10 * time.Minute

// Transcripts are stored as a single JSON blob and replaced wholesale on
// every sync; each snapshot is a total view, so there is nothing to patch
// incrementally.
func (c *RedisChatCache) GetTranscript(ctx context.Context, conversationId string) ([]models.ChatEntry, error) {
	raw, err := c.client.Get(ctx, buildTranscriptKey(conversationId)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // cache miss
		}
		return nil, err
	}

	var entries []models.ChatEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		// A corrupt blob is treated as a miss; the next sync rewrites it.
		log.Printf("Dropping unreadable transcript cache for %s: %v", conversationId, err)
		c.InvalidateConversation(ctx, conversationId)
		return nil, nil
	}
	return entries, nil
}

func (c *RedisChatCache) SetTranscript(ctx context.Context, conversationId string, entries []models.ChatEntry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, buildTranscriptKey(conversationId), raw, cacheTTL).Err()
}

func (c *RedisChatCache) AppendTranscript(ctx context.Context, conversationId string, entry models.ChatEntry) error {
	entries, err := c.GetTranscript(ctx, conversationId)
	if err != nil {
		return err
	}
	return c.SetTranscript(ctx, conversationId, append(entries, entry))
}

func (c *RedisChatCache) InvalidateConversation(ctx context.Context, conversationId string) error {
	return c.client.Del(ctx, buildTranscriptKey(conversationId)).Err()
}
