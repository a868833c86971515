package auth

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSeed(b byte) []byte {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = b
	}
	return seed
}

func TestNewKeypairFromSeed(t *testing.T) {
	t.Run("derives a decodable address", func(t *testing.T) {
		kp, err := NewKeypairFromSeed(testSeed(1))
		require.NoError(t, err)

		_, err = DecodeSS58(kp.Address())
		require.NoError(t, err)
	})

	t.Run("deterministic", func(t *testing.T) {
		a, err := NewKeypairFromSeed(testSeed(2))
		require.NoError(t, err)
		b, err := NewKeypairFromSeed(testSeed(2))
		require.NoError(t, err)
		assert.Equal(t, a.Address(), b.Address())
	})

	t.Run("rejects short seed", func(t *testing.T) {
		_, err := NewKeypairFromSeed([]byte{1, 2, 3})
		require.Error(t, err)
	})
}

func TestNewKeypairFromHex(t *testing.T) {
	kp, err := NewKeypairFromHex("0x0101010101010101010101010101010101010101010101010101010101010101")
	require.NoError(t, err)

	same, err := NewKeypairFromSeed(testSeed(1))
	require.NoError(t, err)
	assert.Equal(t, same.Address(), kp.Address())

	_, err = NewKeypairFromHex("not-hex")
	require.Error(t, err)
}

func TestSignAndVerify(t *testing.T) {
	kp, err := NewKeypairFromSeed(testSeed(3))
	require.NoError(t, err)

	msg := []byte("POST\n/v1/batches\nabc123")
	sig, err := kp.Sign(msg)
	require.NoError(t, err)

	t.Run("round trip", func(t *testing.T) {
		ok, err := Verify(kp.Address(), msg, sig)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("tampered message", func(t *testing.T) {
		ok, err := Verify(kp.Address(), []byte("POST\n/v1/batches\nabc124"), sig)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("wrong key", func(t *testing.T) {
		other, err := NewKeypairFromSeed(testSeed(4))
		require.NoError(t, err)
		ok, err := Verify(other.Address(), msg, sig)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestSignRequestAndVerifyRequest(t *testing.T) {
	kp, err := NewKeypairFromSeed(testSeed(5))
	require.NoError(t, err)

	body := []byte(`{"batch_id":"b1"}`)
	req, err := http.NewRequest(http.MethodPost, "https://validator.example/v1/batches?src=platform", bytes.NewReader(body))
	require.NoError(t, err)
	require.NoError(t, kp.SignRequest(req, body))

	header := req.Header.Get("Authorization")
	require.NotEmpty(t, header)

	t.Run("accepted by verifier", func(t *testing.T) {
		v := NewVerifier([]string{kp.Address()})
		address, err := v.VerifyRequest(http.MethodPost, "/v1/batches", "src=platform", body, header)
		require.NoError(t, err)
		assert.Equal(t, kp.Address(), address)
	})

	t.Run("empty allow-list admits any valid signer", func(t *testing.T) {
		v := NewVerifier(nil)
		_, err := v.VerifyRequest(http.MethodPost, "/v1/batches", "src=platform", body, header)
		require.NoError(t, err)
	})

	t.Run("allow-list rejects unknown address", func(t *testing.T) {
		v := NewVerifier([]string{aliceAddress})
		_, err := v.VerifyRequest(http.MethodPost, "/v1/batches", "src=platform", body, header)
		require.ErrorIs(t, err, ErrUnknownCaller)
	})

	t.Run("body mismatch fails", func(t *testing.T) {
		v := NewVerifier([]string{kp.Address()})
		_, err := v.VerifyRequest(http.MethodPost, "/v1/batches", "src=platform", []byte(`{}`), header)
		require.ErrorIs(t, err, ErrBadSignature)
	})

	t.Run("path mismatch fails", func(t *testing.T) {
		v := NewVerifier([]string{kp.Address()})
		_, err := v.VerifyRequest(http.MethodPost, "/v1/other", "src=platform", body, header)
		require.ErrorIs(t, err, ErrBadSignature)
	})
}
