package auth

import (
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// BittensorPrefix is the ss58 network prefix used for encoding addresses.
const BittensorPrefix = 42

// ss58Preamble is prepended to the payload before hashing the checksum.
var ss58Preamble = []byte("SS58PRE")

// ErrInvalidAddress reports an ss58 address that fails decoding or its
// checksum.
var ErrInvalidAddress = errors.New("invalid ss58 address")

// EncodeSS58 renders a 32-byte public key as an ss58 address.
func EncodeSS58(pubKey [32]byte) string {
	payload := make([]byte, 0, 35)
	payload = append(payload, BittensorPrefix)
	payload = append(payload, pubKey[:]...)
	payload = append(payload, ss58Checksum(payload)...)
	return base58.Encode(payload)
}

// DecodeSS58 extracts the 32-byte public key from an ss58 address,
// validating length and checksum. Any single-byte network prefix is
// accepted; the checksum binds the prefix so addresses cannot be replayed
// across encodings.
func DecodeSS58(address string) ([32]byte, error) {
	var pubKey [32]byte

	raw, err := base58.Decode(address)
	if err != nil {
		return pubKey, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	// prefix byte + 32-byte key + 2-byte checksum
	if len(raw) != 35 {
		return pubKey, fmt.Errorf("%w: unexpected length %d", ErrInvalidAddress, len(raw))
	}

	payload, checksum := raw[:33], raw[33:]
	expected := ss58Checksum(payload)
	if checksum[0] != expected[0] || checksum[1] != expected[1] {
		return pubKey, fmt.Errorf("%w: checksum mismatch", ErrInvalidAddress)
	}

	copy(pubKey[:], payload[1:])
	return pubKey, nil
}

func ss58Checksum(payload []byte) []byte {
	hasher, err := blake2b.New512(nil)
	if err != nil {
		// New512 with a nil key cannot fail.
		panic(err)
	}
	hasher.Write(ss58Preamble)
	hasher.Write(payload)
	return hasher.Sum(nil)[:2]
}
