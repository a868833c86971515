package auth

import "errors"

// ErrUnknownCaller reports a verified header whose address is not on the
// allow-list.
var ErrUnknownCaller = errors.New("caller not on allow-list")

// Verifier authenticates inbound platform requests: header parse,
// allow-list gate, canonical-string rebuild, signature check.
type Verifier struct {
	allowed map[string]struct{}
}

// NewVerifier builds a verifier gated by the given ss58 addresses. An empty
// list admits any address whose signature verifies.
func NewVerifier(allowed []string) *Verifier {
	v := &Verifier{allowed: make(map[string]struct{}, len(allowed))}
	for _, address := range allowed {
		v.allowed[address] = struct{}{}
	}
	return v
}

// VerifyRequest authenticates one request and returns the caller's address.
// body must be the literal request bytes.
func (v *Verifier) VerifyRequest(method, path, rawQuery string, body []byte, authHeader string) (string, error) {
	caller, err := ParseAuthorization(authHeader)
	if err != nil {
		return "", err
	}
	if len(v.allowed) > 0 {
		if _, ok := v.allowed[caller.Address]; !ok {
			return "", ErrUnknownCaller
		}
	}

	canonical := CanonicalString(method, path, rawQuery, body)
	ok, err := Verify(caller.Address, []byte(canonical), caller.Signature)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrBadSignature
	}
	return caller.Address, nil
}
