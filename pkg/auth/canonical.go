package auth

import (
	"crypto/sha256"
	"encoding/hex"
)

// CanonicalString builds the string both sides sign: method, path (with
// query when present) and the hex sha-256 of the literal body bytes, joined
// by newlines. Method defaults to GET and path to "/" so that signatures of
// bare requests stay well-defined.
func CanonicalString(method, path, rawQuery string, body []byte) string {
	if method == "" {
		method = "GET"
	}
	if path == "" {
		path = "/"
	}
	target := path
	if rawQuery != "" {
		target = path + "?" + rawQuery
	}
	sum := sha256.Sum256(body)
	return method + "\n" + target + "\n" + hex.EncodeToString(sum[:])
}
