package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/velora-app/chatcore/models"
)

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Publish(ctx context.Context, channel string, message []byte) error {
	args := m.Called(ctx, channel, message)
	return args.Error(0)
}

func (m *MockCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	args := m.Called(ctx, channel, handler)
	return args.Error(0)
}

func (m *MockCache) GetTranscript(ctx context.Context, conversationId string) ([]models.ChatEntry, error) {
	args := m.Called(ctx, conversationId)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ChatEntry), args.Error(1)
}

func (m *MockCache) SetTranscript(ctx context.Context, conversationId string, entries []models.ChatEntry) error {
	args := m.Called(ctx, conversationId, entries)
	return args.Error(0)
}

func (m *MockCache) AppendTranscript(ctx context.Context, conversationId string, entry models.ChatEntry) error {
	args := m.Called(ctx, conversationId, entry)
	return args.Error(0)
}

func (m *MockCache) InvalidateConversation(ctx context.Context, conversationId string) error {
	args := m.Called(ctx, conversationId)
	return args.Error(0)
}
