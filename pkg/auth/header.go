package auth

import (
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
)

// Authorization header scheme: Bittensor ss58="<address>",sig="<hex>".
// The pattern is strict on purpose: no extra whitespace, no reordered
// fields, signature exactly 64 bytes of hex.
var authPattern = regexp.MustCompile(
	`^Bittensor ss58="([1-9A-HJ-NP-Za-km-z]+)",sig="([0-9a-fA-F]{128})"$`)

var (
	// ErrMissingAuthorization reports an absent Authorization header.
	ErrMissingAuthorization = errors.New("missing authorization header")
	// ErrMalformedAuthorization reports a header that does not match the
	// Bittensor scheme.
	ErrMalformedAuthorization = errors.New("malformed authorization header")
)

// Caller identifies the signer of an inbound request.
type Caller struct {
	Address   string
	Signature [64]byte
}

// ParseAuthorization extracts the caller from an Authorization header value.
func ParseAuthorization(header string) (*Caller, error) {
	if header == "" {
		return nil, ErrMissingAuthorization
	}
	match := authPattern.FindStringSubmatch(header)
	if match == nil {
		return nil, ErrMalformedAuthorization
	}

	caller := &Caller{Address: match[1]}
	raw, err := hex.DecodeString(match[2])
	if err != nil || len(raw) != 64 {
		return nil, ErrMalformedAuthorization
	}
	copy(caller.Signature[:], raw)
	return caller, nil
}

// FormatAuthorization renders the Authorization header value for an
// outbound signed request.
func FormatAuthorization(address string, sig [64]byte) string {
	return fmt.Sprintf(`Bittensor ss58=%q,sig=%q`, address, hex.EncodeToString(sig[:]))
}
