package auth

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Substrate's well-known dev key, prefix 42.
const (
	aliceAddress = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
	alicePubHex  = "d43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d"
)

func alicePubKey(t *testing.T) [32]byte {
	t.Helper()
	raw, err := hex.DecodeString(alicePubHex)
	require.NoError(t, err)
	var key [32]byte
	copy(key[:], raw)
	return key
}

func TestEncodeSS58(t *testing.T) {
	assert.Equal(t, aliceAddress, EncodeSS58(alicePubKey(t)))
}

func TestDecodeSS58(t *testing.T) {
	t.Run("known address", func(t *testing.T) {
		pubKey, err := DecodeSS58(aliceAddress)
		require.NoError(t, err)
		assert.Equal(t, alicePubKey(t), pubKey)
	})

	t.Run("round trip", func(t *testing.T) {
		var key [32]byte
		for i := range key {
			key[i] = byte(i * 7)
		}
		decoded, err := DecodeSS58(EncodeSS58(key))
		require.NoError(t, err)
		assert.Equal(t, key, decoded)
	})

	t.Run("tampered checksum", func(t *testing.T) {
		tampered := aliceAddress[:len(aliceAddress)-1] + "R"
		_, err := DecodeSS58(tampered)
		require.ErrorIs(t, err, ErrInvalidAddress)
	})

	t.Run("wrong length", func(t *testing.T) {
		_, err := DecodeSS58("5Grwva")
		require.ErrorIs(t, err, ErrInvalidAddress)
	})

	t.Run("not base58", func(t *testing.T) {
		_, err := DecodeSS58("0OIl+/=")
		require.ErrorIs(t, err, ErrInvalidAddress)
	})
}
