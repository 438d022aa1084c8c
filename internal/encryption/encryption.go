// Package encryption seals generation payloads before they leave the
// service. The wire format is base64(iv || ciphertext) with a 12-byte IV.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	iterations = 100000
	keyLen     = 32
	ivLen      = 12
)

var ErrMalformed = errors.New("encryption: malformed ciphertext")

type Cipher struct {
	aead cipher.AEAD
}

// New derives the AES-256 key from passphrase and salt.
func New(passphrase, salt string) (*Cipher, error) {
	if passphrase == "" {
		return nil, errors.New("encryption: empty passphrase")
	}
	key := pbkdf2.Key([]byte(passphrase), []byte(salt), iterations, keyLen, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("encryption: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("encryption: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

func (c *Cipher) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, ivLen)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("encryption: %w", err)
	}
	sealed := c.aead.Seal(iv, iv, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *Cipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(raw) < ivLen+c.aead.Overhead() {
		return "", ErrMalformed
	}
	plain, err := c.aead.Open(nil, raw[:ivLen], raw[ivLen:], nil)
	if err != nil {
		return "", ErrMalformed
	}
	return string(plain), nil
}
