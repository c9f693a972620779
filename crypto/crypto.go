package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	KeyBytes   = 32
	NonceBytes = chacha20poly1305.NonceSizeX
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

type PublicKey [KeyBytes]byte
type PrivateKey [KeyBytes]byte

// KeyPair is one user's asymmetric key material. The private half never
// leaves the local session; the public half is published to the directory.
type KeyPair struct {
	Public  PublicKey
	Private PrivateKey
}

func (k PublicKey) IsZero() bool {
	return k == PublicKey{}
}

func (kp KeyPair) Ready() bool {
	return kp.Private != PrivateKey{}
}

// GenerateKeyPair returns a fresh X25519 key pair.
// The private key is clamped per RFC 7748.
func GenerateKeyPair() (KeyPair, error) {
	var kp KeyPair
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return KeyPair{}, err
	}
	kp.Private[0] &= 248
	kp.Private[31] &= 127
	kp.Private[31] |= 64

	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, err
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// EncodePublicKey returns standard base64 without newlines.
func EncodePublicKey(pub PublicKey) string {
	return base64.StdEncoding.EncodeToString(pub[:])
}

func DecodePublicKey(s string) (PublicKey, error) {
	var pub PublicKey
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("invalid public key encoding: %w", err)
	}
	if len(raw) != KeyBytes {
		return PublicKey{}, fmt.Errorf("invalid public key length: %d", len(raw))
	}
	copy(pub[:], raw)
	return pub, nil
}

var hkdfInfo = []byte("velora-chatcore-v1")

func deriveSealKey(shared []byte) ([]byte, error) {
	key := make([]byte, KeyBytes)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, hkdfInfo), key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt seals plaintext to the recipient's public key. A fresh ephemeral
// X25519 pair is generated per message; the wire format is
// base64(ephemeralPub || nonce || ciphertext). The ephemeral public key is
// bound as AEAD additional data.
func Encrypt(plaintext []byte, recipient PublicKey) (string, error) {
	eph, err := GenerateKeyPair()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	shared, err := curve25519.X25519(eph.Private[:], recipient[:])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	key, err := deriveSealKey(shared)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, NonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	out := make([]byte, 0, KeyBytes+NonceBytes+len(plaintext)+aead.Overhead())
	out = append(out, eph.Public[:]...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, eph.Public[:])

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a sealed message with the local private key.
func Decrypt(ciphertext string, own PrivateKey) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	if len(raw) < KeyBytes+NonceBytes {
		return nil, fmt.Errorf("%w: message too short", ErrDecryptionFailed)
	}

	ephPub := raw[:KeyBytes]
	nonce := raw[KeyBytes : KeyBytes+NonceBytes]
	sealed := raw[KeyBytes+NonceBytes:]

	shared, err := curve25519.X25519(own[:], ephPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	key, err := deriveSealKey(shared)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	plaintext, err := aead.Open(nil, nonce, sealed, ephPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}
