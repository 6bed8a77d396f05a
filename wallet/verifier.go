package wallet

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"

	"github.com/bartossh/echoledger/serializer"
)

var (
	ErrInvalidAddressLength = errors.New("address of invalid length")
	ErrAddressChecksum      = errors.New("address checksum is not equal")
	ErrAddressVersion       = errors.New("address version is not supported")
	ErrInvalidSignature     = errors.New("message signature isn't valid")
)

// Helper provides wallet helper functionalities without knowing about wallet private and public keys.
type Helper struct{}

// NewVerifier creates new wallet Helper verifier.
func NewVerifier() Helper {
	return Helper{}
}

// AddressToPubKey creates ED25519 public key from address, or returns error otherwise.
func (h Helper) AddressToPubKey(address string) (ed25519.PublicKey, error) {
	raw, err := serializer.Base58Decode([]byte(address))
	if err != nil {
		return nil, err
	}
	if len(raw) != 1+ed25519.PublicKeySize+checksumLength {
		return nil, ErrInvalidAddressLength
	}
	actualChecksum := raw[len(raw)-checksumLength:]
	if raw[0] != version {
		return nil, ErrAddressVersion
	}
	pubKey := raw[1 : len(raw)-checksumLength]
	targetChecksum := checksum(append([]byte{version}, pubKey...))

	if !bytes.Equal(actualChecksum, targetChecksum) {
		return nil, ErrAddressChecksum
	}

	return pubKey, nil
}

// Verify verifies if message is signed by the owner of the given address.
func (h Helper) Verify(message, signature []byte, address string) error {
	pubKey, err := h.AddressToPubKey(address)
	if err != nil {
		return err
	}

	digest := sha256.Sum256(message)
	if !ed25519.Verify(pubKey, digest[:], signature) {
		return ErrInvalidSignature
	}
	return nil
}
