package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalString(t *testing.T) {
	body := []byte(`{"batch_id":"b1"}`)
	sum := sha256.Sum256(body)

	t.Run("method path body", func(t *testing.T) {
		got := CanonicalString("POST", "/v1/batches", "", body)
		assert.Equal(t, "POST\n/v1/batches\n"+hex.EncodeToString(sum[:]), got)
	})

	t.Run("query appended", func(t *testing.T) {
		got := CanonicalString("GET", "/v1/batches", "status=RUNNING", nil)
		empty := sha256.Sum256(nil)
		assert.Equal(t, "GET\n/v1/batches?status=RUNNING\n"+hex.EncodeToString(empty[:]), got)
	})

	t.Run("defaults", func(t *testing.T) {
		got := CanonicalString("", "", "", nil)
		assert.Equal(t,
			"GET\n/\ne3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
			got)
	})

	t.Run("body bytes are literal", func(t *testing.T) {
		a := CanonicalString("POST", "/p", "", []byte(`{"a":1}`))
		b := CanonicalString("POST", "/p", "", []byte(`{"a": 1}`))
		assert.NotEqual(t, a, b)
	})
}
