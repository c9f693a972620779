package keys_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/velora-app/chatcore/crypto"
	"github.com/velora-app/chatcore/keys"
	"github.com/velora-app/chatcore/models"
	"github.com/velora-app/chatcore/store"
	storemocks "github.com/velora-app/chatcore/store/mocks"
)

func setupKeyService() (*keys.Service, *storemocks.MockStore) {
	mockStore := new(storemocks.MockStore)
	return keys.NewService(mockStore), mockStore
}

func TestEnsureKeyPair_FirstUse_PublishesPublicKey(t *testing.T) {
	svc, mockStore := setupKeyService()
	ctx := context.Background()

	mockStore.On("GetKeyRecord", ctx, "alice").Return(models.KeyRecord{}, store.ErrItemNotFound)

	var putRec models.KeyRecord
	mockStore.On("PutKeyRecord", ctx, mock.Anything).Run(func(args mock.Arguments) {
		putRec = args.Get(1).(models.KeyRecord)
	}).Return(nil)

	kp, err := svc.EnsureKeyPair(ctx, "alice")
	assert.NoError(t, err)
	assert.True(t, kp.Ready())

	assert.Equal(t, "alice", putRec.UserId)
	assert.Equal(t, crypto.EncodePublicKey(kp.Public), putRec.PublicKey)
	assert.NotZero(t, putRec.Updated)
}

func TestEnsureKeyPair_ExistingEntry_KeepsPublishedKey(t *testing.T) {
	svc, mockStore := setupKeyService()
	ctx := context.Background()

	original, err := crypto.GenerateKeyPair()
	assert.NoError(t, err)

	mockStore.On("GetKeyRecord", ctx, "alice").Return(models.KeyRecord{
		UserId:    "alice",
		PublicKey: crypto.EncodePublicKey(original.Public),
	}, nil)

	kp, err := svc.EnsureKeyPair(ctx, "alice")
	assert.NoError(t, err)
	assert.True(t, kp.Ready())

	// The directory entry is reused, not overwritten
	assert.Equal(t, original.Public, kp.Public)
	mockStore.AssertNotCalled(t, "PutKeyRecord", mock.Anything, mock.Anything)

	// The private half is fresh, so ciphertext sealed to the published key
	// in an earlier session is no longer readable in this one.
	sealedEarlier, err := crypto.Encrypt([]byte("from last session"), original.Public)
	assert.NoError(t, err)
	_, err = crypto.Decrypt(sealedEarlier, kp.Private)
	assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)
}

func TestEnsureKeyPair_CorruptEntry_Regenerates(t *testing.T) {
	svc, mockStore := setupKeyService()
	ctx := context.Background()

	mockStore.On("GetKeyRecord", ctx, "alice").Return(models.KeyRecord{
		UserId:    "alice",
		PublicKey: "not a key",
	}, nil)
	mockStore.On("PutKeyRecord", ctx, mock.Anything).Return(nil)

	kp, err := svc.EnsureKeyPair(ctx, "alice")
	assert.NoError(t, err)
	assert.True(t, kp.Ready())
	mockStore.AssertCalled(t, "PutKeyRecord", ctx, mock.Anything)
}

func TestEnsureKeyPair_PutRetriesUntilSuccess(t *testing.T) {
	svc, mockStore := setupKeyService()
	ctx := context.Background()

	mockStore.On("GetKeyRecord", ctx, "alice").Return(models.KeyRecord{}, store.ErrItemNotFound)
	mockStore.On("PutKeyRecord", ctx, mock.Anything).Return(errors.New("throttled")).Twice()
	mockStore.On("PutKeyRecord", ctx, mock.Anything).Return(nil)

	kp, err := svc.EnsureKeyPair(ctx, "alice")
	assert.NoError(t, err)
	assert.True(t, kp.Ready())
	mockStore.AssertNumberOfCalls(t, "PutKeyRecord", 3)
}

func TestFetchPeerPublicKey_Success(t *testing.T) {
	svc, mockStore := setupKeyService()
	ctx := context.Background()

	peer, err := crypto.GenerateKeyPair()
	assert.NoError(t, err)

	mockStore.On("GetKeyRecord", ctx, "bob").Return(models.KeyRecord{
		UserId:    "bob",
		PublicKey: crypto.EncodePublicKey(peer.Public),
	}, nil)

	pub, err := svc.FetchPeerPublicKey(ctx, "bob")
	assert.NoError(t, err)
	assert.Equal(t, peer.Public, pub)
}

func TestFetchPeerPublicKey_NotFound(t *testing.T) {
	svc, mockStore := setupKeyService()
	ctx := context.Background()

	mockStore.On("GetKeyRecord", ctx, "bob").Return(models.KeyRecord{}, store.ErrItemNotFound)

	_, err := svc.FetchPeerPublicKey(ctx, "bob")
	assert.ErrorIs(t, err, keys.ErrKeyNotFound)
}

func TestFetchPeerPublicKey_UnreadableEntry(t *testing.T) {
	svc, mockStore := setupKeyService()
	ctx := context.Background()

	mockStore.On("GetKeyRecord", ctx, "bob").Return(models.KeyRecord{
		UserId:    "bob",
		PublicKey: "garbage",
	}, nil)

	_, err := svc.FetchPeerPublicKey(ctx, "bob")
	assert.ErrorIs(t, err, keys.ErrKeyNotFound)
}
