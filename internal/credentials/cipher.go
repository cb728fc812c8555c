// Package credentials encrypts OAuth tokens at rest and keeps refreshed
// tokens written back to the store.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"

	"github.com/rotisserie/eris"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// Cipher seals credential blobs with AES-256-GCM. Sealed output is base64 of
// nonce || ciphertext || tag. A Cipher built without a key passes data
// through unchanged.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a cipher. An empty key disables encryption.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) == 0 {
		return &Cipher{}, nil
	}
	if len(key) != KeySize {
		return nil, eris.Errorf("credentials: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, eris.Wrap(err, "credentials: create cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, eris.Wrap(err, "credentials: create gcm")
	}
	return &Cipher{aead: aead}, nil
}

// CipherFromBase64 decodes a base64 key and creates a cipher.
func CipherFromBase64(encoded string) (*Cipher, error) {
	if encoded == "" {
		return NewCipher(nil)
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, eris.Wrap(err, "credentials: decode key")
	}
	return NewCipher(key)
}

// Enabled reports whether the cipher encrypts.
func (c *Cipher) Enabled() bool { return c.aead != nil }

// Seal encrypts plaintext.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	if c.aead == nil {
		return plaintext, nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, eris.Wrap(err, "credentials: generate nonce")
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sealed)))
	base64.StdEncoding.Encode(out, sealed)
	return out, nil
}

// Open decrypts a blob produced by Seal.
func (c *Cipher) Open(blob []byte) ([]byte, error) {
	if c.aead == nil {
		return blob, nil
	}
	sealed := make([]byte, base64.StdEncoding.DecodedLen(len(blob)))
	n, err := base64.StdEncoding.Decode(sealed, blob)
	if err != nil {
		return nil, eris.Wrap(err, "credentials: decode blob")
	}
	sealed = sealed[:n]

	ns := c.aead.NonceSize()
	if len(sealed) < ns {
		return nil, eris.New("credentials: blob too short")
	}
	plaintext, err := c.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, eris.Wrap(err, "credentials: decrypt")
	}
	return plaintext, nil
}

// GenerateKey returns a random base64-encoded key.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", eris.Wrap(err, "credentials: generate key")
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
