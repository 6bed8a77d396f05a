// Package signable defines the canonical text representation every persisted and wire entity exposes
// for hashing and signing, and the helpers to sign and verify it.
package signable

import (
	"crypto/sha256"
	"errors"
	"strconv"
	"strings"

	"github.com/bartossh/echoledger/serializer"
)

const separator = "|"

var (
	ErrSignatureEncoding = errors.New("signature is not base58 encoded")
	ErrSignatureMismatch = errors.New("signature does not match signable")
)

// Signable is implemented by every entity that can be hashed or signed.
type Signable interface {
	Signable() string
}

// Signer signs raw messages, returning sha256 digest and signature.
type Signer interface {
	Sign(message []byte) (digest [32]byte, signature []byte)
}

// Verifier verifies raw message signature for the owner of the given address.
type Verifier interface {
	Verify(message, signature []byte, address string) error
}

// Join builds canonical text from the fields in the given order.
func Join(fields ...string) string {
	return strings.Join(fields, separator)
}

// Int formats integer field.
func Int(v int64) string {
	return strconv.FormatInt(v, 10)
}

// Bool formats boolean field.
func Bool(v bool) string {
	return strconv.FormatBool(v)
}

// Digest returns base58 encoded sha256 of the text.
func Digest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return serializer.EncodeToString(sum[:])
}

// Sign signs the canonical text of s and returns base58 encoded signature.
func Sign(signer Signer, s Signable) string {
	return SignText(signer, s.Signable())
}

// SignText signs the text and returns base58 encoded signature.
func SignText(signer Signer, text string) string {
	_, sig := signer.Sign([]byte(text))
	return serializer.EncodeToString(sig)
}

// Verify checks base58 encoded signature over the canonical text of s made by the address owner.
func Verify(v Verifier, signature string, s Signable, address string) error {
	return VerifyText(v, signature, s.Signable(), address)
}

// VerifyText checks base58 encoded signature over text made by the address owner.
func VerifyText(v Verifier, signature, text, address string) error {
	raw, err := serializer.DecodeString(signature)
	if err != nil {
		return errors.Join(ErrSignatureEncoding, err)
	}
	if err := v.Verify([]byte(text), raw, address); err != nil {
		return errors.Join(ErrSignatureMismatch, err)
	}
	return nil
}
