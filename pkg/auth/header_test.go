package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAuthorization(t *testing.T) {
	sigHex := strings.Repeat("ab", 64)
	valid := `Bittensor ss58="` + aliceAddress + `",sig="` + sigHex + `"`

	t.Run("valid header", func(t *testing.T) {
		caller, err := ParseAuthorization(valid)
		require.NoError(t, err)
		assert.Equal(t, aliceAddress, caller.Address)
		assert.Equal(t, byte(0xab), caller.Signature[0])
		assert.Equal(t, byte(0xab), caller.Signature[63])
	})

	t.Run("missing header", func(t *testing.T) {
		_, err := ParseAuthorization("")
		require.ErrorIs(t, err, ErrMissingAuthorization)
	})

	t.Run("malformed variants", func(t *testing.T) {
		malformed := []string{
			`Bearer ` + sigHex,
			`Bittensor sig="` + sigHex + `",ss58="` + aliceAddress + `"`,
			`Bittensor ss58="` + aliceAddress + `", sig="` + sigHex + `"`,
			`Bittensor ss58="` + aliceAddress + `",sig="` + sigHex[:126] + `"`,
			`Bittensor ss58="` + aliceAddress + `",sig="` + strings.Repeat("zz", 64) + `"`,
			`Bittensor ss58="",sig="` + sigHex + `"`,
			valid + ` extra`,
		}
		for _, header := range malformed {
			_, err := ParseAuthorization(header)
			assert.ErrorIs(t, err, ErrMalformedAuthorization, "header: %s", header)
		}
	})
}

func TestFormatAuthorization(t *testing.T) {
	var sig [64]byte
	for i := range sig {
		sig[i] = byte(i)
	}
	header := FormatAuthorization(aliceAddress, sig)

	caller, err := ParseAuthorization(header)
	require.NoError(t, err)
	assert.Equal(t, aliceAddress, caller.Address)
	assert.Equal(t, sig, caller.Signature)
}
