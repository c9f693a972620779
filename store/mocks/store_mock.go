package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/velora-app/chatcore/models"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	args := m.Called(ctx, user)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *MockStore) GetUser(ctx context.Context, userId string) (models.User, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *MockStore) GetUserByProvider(ctx context.Context, provider string, providerId string) (models.User, error) {
	args := m.Called(ctx, provider, providerId)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *MockStore) AdjustCredits(ctx context.Context, userId string, delta int) (int, error) {
	args := m.Called(ctx, userId, delta)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) GetKeyRecord(ctx context.Context, userId string) (models.KeyRecord, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(models.KeyRecord), args.Error(1)
}

func (m *MockStore) PutKeyRecord(ctx context.Context, rec models.KeyRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockStore) GetConversation(ctx context.Context, conversationId string) (models.Conversation, error) {
	args := m.Called(ctx, conversationId)
	return args.Get(0).(models.Conversation), args.Error(1)
}

func (m *MockStore) CreateConversation(ctx context.Context, conv models.Conversation) error {
	args := m.Called(ctx, conv)
	return args.Error(0)
}

func (m *MockStore) UpdateConversationMeta(ctx context.Context, conversationId string, last models.LastMessage, updated int64) error {
	args := m.Called(ctx, conversationId, last, updated)
	return args.Error(0)
}

func (m *MockStore) SetUnreadCount(ctx context.Context, conversationId string, userId string, count int) error {
	args := m.Called(ctx, conversationId, userId, count)
	return args.Error(0)
}

func (m *MockStore) AppendMessage(ctx context.Context, conversationId string, msg models.Message) (string, error) {
	args := m.Called(ctx, conversationId, msg)
	return args.String(0), args.Error(1)
}

func (m *MockStore) GetMessages(ctx context.Context, conversationId string) ([]models.Message, error) {
	args := m.Called(ctx, conversationId)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MockStore) MarkMessagesRead(ctx context.Context, conversationId string, messageIds []string) error {
	args := m.Called(ctx, conversationId, messageIds)
	return args.Error(0)
}
