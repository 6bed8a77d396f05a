package serializer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDecodeString(t *testing.T) {
	raw := []byte{0, 1, 2, 3, 250, 251, 252}
	s := EncodeToString(raw)
	assert.NotEmpty(t, s)

	decoded, err := DecodeString(s)
	assert.Nil(t, err)
	assert.Equal(t, raw, decoded)
}

func TestDecodeStringEmpty(t *testing.T) {
	_, err := DecodeString("")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestDecodeStringInvalidAlphabet(t *testing.T) {
	_, err := DecodeString("0OIl")
	assert.NotNil(t, err)
}
