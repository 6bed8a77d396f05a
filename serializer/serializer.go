package serializer

import (
	"errors"

	"github.com/mr-tron/base58"
)

// ErrEmptyInput is returned when there is nothing to decode.
var ErrEmptyInput = errors.New("empty input")

// Base58Encode encodes byte array to base58 string.
func Base58Encode(input []byte) []byte {
	encode := base58.Encode(input)

	return []byte(encode)
}

// Base58Decode decodes base58 string to byte array.
func Base58Decode(input []byte) ([]byte, error) {
	decode, err := base58.Decode(string(input[:]))
	if err != nil {
		return nil, err
	}

	return decode, nil
}

// EncodeToString encodes raw bytes like signatures and digests for the wire.
func EncodeToString(input []byte) string {
	return base58.Encode(input)
}

// DecodeString decodes the wire representation produced by EncodeToString.
func DecodeString(input string) ([]byte, error) {
	if input == "" {
		return nil, ErrEmptyInput
	}
	return base58.Decode(input)
}
