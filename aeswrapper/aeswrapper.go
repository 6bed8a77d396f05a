// Package aeswrapper seals and opens byte slices with AES in Galois Counter Mode.
package aeswrapper

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"
)

var (
	ErrInvalidKeyLength   = errors.New("invalid key length, must be 16 or 32 bytes")
	ErrCipherFailure      = errors.New("cipher creation failure")
	ErrGCMFailure         = errors.New("gcm creation failure")
	ErrRandomNonceFailure = errors.New("random nonce creation failure")
	ErrDataTooShort       = errors.New("sealed data is shorter than nonce")
	ErrOpenDataFailure    = errors.New("open data failure, cannot decrypt data")
)

const nonceSize = 12

// Helper wraps AES encryption and decryption.
type Helper struct{}

// New creates a new Helper.
func New() Helper {
	return Helper{}
}

// Encrypt seals data with key, prefixing the result with a random nonce.
func (h Helper) Encrypt(key, data []byte) ([]byte, error) {
	aesgcm, err := gcm(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Join(ErrRandomNonceFailure, err)
	}

	return aesgcm.Seal(nonce, nonce, data, nil), nil
}

// Decrypt opens data sealed by Encrypt with the same key.
func (h Helper) Decrypt(key, data []byte) ([]byte, error) {
	aesgcm, err := gcm(key)
	if err != nil {
		return nil, err
	}
	if len(data) < nonceSize {
		return nil, ErrDataTooShort
	}

	plaintext, err := aesgcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, errors.Join(ErrOpenDataFailure, err)
	}
	return plaintext, nil
}

func gcm(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 && len(key) != 16 {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Join(ErrCipherFailure, err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Join(ErrGCMFailure, err)
	}
	return aesgcm, nil
}
