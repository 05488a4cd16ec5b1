// Package secretbox seals small secrets, such as TOTP keys, before they are
// written to the user store. The sealing key is held in a memguard enclave
// and only decrypted for the duration of a single operation.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
)

// KeySize is the required sealing key length (AES-256).
const KeySize = 32

const formatV1 byte = 1

var (
	// ErrKeySize is returned when the sealing key is not KeySize bytes.
	ErrKeySize = errors.New("secretbox key must be 32 bytes")
	// ErrOpen is returned when a sealed value cannot be authenticated.
	ErrOpen = errors.New("secretbox open failed")
)

// Box seals and opens values with AES-256-GCM.
type Box struct {
	key *memguard.Enclave
}

// New moves key into an enclave and wipes the caller's copy.
func New(key []byte) (*Box, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	return &Box{key: memguard.NewEnclave(key)}, nil
}

// NewFromHex decodes a hex-encoded key and calls [New].
func NewFromHex(s string) (*Box, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("secretbox key: %w", err)
	}
	return New(key)
}

// NewRandom returns a box with a freshly generated key. Values sealed with it
// cannot be opened after the process exits.
func NewRandom() (*Box, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return New(key)
}

func (b *Box) aead() (cipher.AEAD, func(), error) {
	buf, err := b.key.Open()
	if err != nil {
		return nil, nil, err
	}
	block, err := aes.NewCipher(buf.Bytes())
	if err != nil {
		buf.Destroy()
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		buf.Destroy()
		return nil, nil, err
	}
	return gcm, buf.Destroy, nil
}

// Seal encrypts plaintext bound to context, typically the owning user ID.
func (b *Box) Seal(plaintext []byte, context string) ([]byte, error) {
	gcm, done, err := b.aead()
	if err != nil {
		return nil, err
	}
	defer done()

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, formatV1)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, []byte(context)), nil
}

// Open reverses [Box.Seal]. A value sealed under a different context fails.
func (b *Box) Open(sealed []byte, context string) ([]byte, error) {
	gcm, done, err := b.aead()
	if err != nil {
		return nil, err
	}
	defer done()

	if len(sealed) < 1+gcm.NonceSize()+gcm.Overhead() || sealed[0] != formatV1 {
		return nil, ErrOpen
	}
	nonce := sealed[1 : 1+gcm.NonceSize()]
	plaintext, err := gcm.Open(nil, nonce, sealed[1+gcm.NonceSize():], []byte(context))
	if err != nil {
		return nil, ErrOpen
	}
	return plaintext, nil
}
