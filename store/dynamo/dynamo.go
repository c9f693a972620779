package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/gofrs/uuid/v5"

	"github.com/velora-app/chatcore/models"
	"github.com/velora-app/chatcore/store"
)

type DynamoChatStore struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoChatStore(ctx context.Context, devMode bool, dynamodbEndpoint string, tableName string) (*DynamoChatStore, error) {
	client, err := newDynamoDBClient(context.Background(), devMode, dynamodbEndpoint)
	if err != nil {
		return nil, err
	}

	tables, err := getTables(client, ctx)
	if err != nil {
		return nil, err
	}

	foundTable := false
	for _, table := range tables {
		if table == tableName {
			foundTable = true
			break
		}
	}
	if !foundTable {
		return nil, fmt.Errorf("given table name '%s' not found in dynamodb", tableName)
	}

	return &DynamoChatStore{client: client, tableName: tableName}, nil
}

func (s *DynamoChatStore) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	userId, err := uuid.NewV4()
	if err != nil {
		return models.User{}, err
	}
	user.Id = userId.String()
	user.Created = time.Now().Unix()

	// Identity row first: if the OAuth identity is already registered, this
	// login resolves to the existing profile.
	ident := dynamoUserIdent{
		PK:     "IDENT#" + user.Provider + "#" + user.ProviderId,
		SK:     "IDENT",
		UserId: user.Id,
	}
	ident, inserted, err := ensureItem(s, ctx, ident, ident.PK, ident.SK)
	if err != nil {
		return models.User{}, err
	}
	if !inserted {
		return s.GetUser(ctx, ident.UserId)
	}

	if err := putItem(s, ctx, userProfileToDynamo(user)); err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (s *DynamoChatStore) GetUser(ctx context.Context, userId string) (models.User, error) {
	du, err := getItem[dynamoUserProfile](s, ctx, "USER#"+userId, "PROFILE", false)
	if err != nil {
		return models.User{}, err
	}
	return userProfileFromDynamo(du), nil
}

func (s *DynamoChatStore) GetUserByProvider(ctx context.Context, provider string, providerId string) (models.User, error) {
	ident, err := getItem[dynamoUserIdent](s, ctx, "IDENT#"+provider+"#"+providerId, "IDENT", false)
	if err != nil {
		return models.User{}, err
	}
	return s.GetUser(ctx, ident.UserId)
}

func (s *DynamoChatStore) AdjustCredits(ctx context.Context, userId string, delta int) (int, error) {
	return adjustCounter(s, ctx, "USER#"+userId, "PROFILE", "Credits", delta)
}

func (s *DynamoChatStore) GetKeyRecord(ctx context.Context, userId string) (models.KeyRecord, error) {
	dk, err := getItem[dynamoKeyRecord](s, ctx, "KEY#"+userId, "PUBKEY", false)
	if err != nil {
		return models.KeyRecord{}, err
	}
	return keyRecordFromDynamo(dk), nil
}

// PutKeyRecord overwrites unconditionally: key regeneration after an import
// failure must be able to replace a bad directory entry.
func (s *DynamoChatStore) PutKeyRecord(ctx context.Context, rec models.KeyRecord) error {
	return putItem(s, ctx, keyRecordToDynamo(rec))
}

func (s *DynamoChatStore) GetConversation(ctx context.Context, conversationId string) (models.Conversation, error) {
	dc, err := getItem[dynamoConversation](s, ctx, "CONV#"+conversationId, "META", false)
	if err != nil {
		return models.Conversation{}, err
	}
	return conversationFromDynamo(dc), nil
}

// CreateConversation is a conditional put: store.ErrConditionFailed means a
// meta row already exists and must not be overwritten.
func (s *DynamoChatStore) CreateConversation(ctx context.Context, conv models.Conversation) error {
	return putItemIfAbsent(s, ctx, conversationToDynamo(conv))
}

func (s *DynamoChatStore) UpdateConversationMeta(ctx context.Context, conversationId string, last models.LastMessage, updated int64) error {
	return updateFields(s, ctx, "CONV#"+conversationId, "META", map[string]types.AttributeValue{
		"LastText":      &types.AttributeValueMemberS{Value: last.Text},
		"LastSenderId":  &types.AttributeValueMemberS{Value: last.SenderId},
		"LastTimestamp": &types.AttributeValueMemberN{Value: fmt.Sprint(last.Timestamp)},
		"Updated":       &types.AttributeValueMemberN{Value: fmt.Sprint(updated)},
	})
}

func (s *DynamoChatStore) SetUnreadCount(ctx context.Context, conversationId string, userId string, count int) error {
	return setMapEntry(s, ctx, "CONV#"+conversationId, "META", "Unread", userId, count)
}

// AppendMessage persists a message and returns the store-assigned id.
// UUIDv7 keeps the SK ordering aligned with send time.
func (s *DynamoChatStore) AppendMessage(ctx context.Context, conversationId string, msg models.Message) (string, error) {
	messageId, err := uuid.NewV7()
	if err != nil {
		return "", err
	}

	dm := messageToDynamo(conversationId, messageId.String(), msg)
	if err := putItemIfAbsent(s, ctx, dm); err != nil {
		return "", err
	}
	return messageId.String(), nil
}

// Fetch newest 1000 messages; threads past that are not rendered in full.
const maxMessagesPerConversation = 1000

func (s *DynamoChatStore) GetMessages(ctx context.Context, conversationId string) ([]models.Message, error) {
	// Query newest-first (ScanIndexForward: false) so the limit trims the
	// oldest messages, not the newest.
	dynamoMessages, err := queryBySKPrefix[dynamoMessage](s, ctx, "CONV#"+conversationId, "MSG#", false, maxMessagesPerConversation)
	if err != nil {
		return nil, err
	}

	return messagesFromNewestFirst(dynamoMessages), nil
}

// messagesFromNewestFirst reverses a newest-first query result into
// chronological order (oldest -> newest).
func messagesFromNewestFirst(dms []dynamoMessage) []models.Message {
	messages := make([]models.Message, 0, len(dms))
	for i := len(dms) - 1; i >= 0; i-- {
		messages = append(messages, messageFromDynamo(dms[i]))
	}
	return messages
}

// MarkMessagesRead flips Read on each listed message. DynamoDB has no batch
// update, so this is one UpdateItem per id; the first error aborts.
func (s *DynamoChatStore) MarkMessagesRead(ctx context.Context, conversationId string, messageIds []string) error {
	for _, id := range messageIds {
		err := updateFields(s, ctx, "CONV#"+conversationId, "MSG#"+id, map[string]types.AttributeValue{
			"Read": &types.AttributeValueMemberBOOL{Value: true},
		})
		if err != nil && !errors.Is(err, store.ErrItemNotFound) {
			return fmt.Errorf("mark message %s read: %w", id, err)
		}
	}
	return nil
}
