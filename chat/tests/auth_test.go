package chat_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/velora-app/chatcore/models"
)

func TestCreateAndVerifyJWT(t *testing.T) {
	svc, _, _, _, _ := setupService(t)

	token, err := svc.CreateJWT("user1")
	assert.NoError(t, err)
	assert.NotEmpty(t, token)

	userId, expiry, err := svc.VerifyJWT(token)
	assert.NoError(t, err)
	assert.Equal(t, "user1", userId)
	assert.True(t, expiry.After(time.Now()))
}

func TestVerifyJWT_Tampered(t *testing.T) {
	svc, _, _, _, _ := setupService(t)

	token, err := svc.CreateJWT("user1")
	assert.NoError(t, err)

	_, _, err = svc.VerifyJWT(token + "x")
	assert.Error(t, err)
}

func TestAuthenticateToken_Success(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	user := models.User{Id: "user1", DisplayName: "Alice", Credits: 7}
	mockStore.On("GetUser", ctx, "user1").Return(user, nil)

	token, err := svc.CreateJWT("user1")
	assert.NoError(t, err)

	got, err := svc.AuthenticateToken(ctx, token)
	assert.NoError(t, err)
	assert.Equal(t, user, got)
}

func TestAuthenticateToken_Empty(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)

	_, err := svc.AuthenticateToken(context.Background(), "")
	assert.Error(t, err)
	mockStore.AssertNotCalled(t, "GetUser", mock.Anything, mock.Anything)
}
