package receipt

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// RequestHash returns the sha-256 hex digest of the canonical JSON encoding
// of a tool call's args and kwargs. The encoding sorts mapping keys, so the
// hash is independent of insertion order.
func RequestHash(args []any, kwargs map[string]any) string {
	payload := map[string]any{
		"args":   Normalize(args),
		"kwargs": Normalize(kwargs),
	}
	return hashJSON(payload)
}

// ResponseHash returns the sha-256 hex digest of the canonical JSON encoding
// of an already-normalized response payload. Returns "" for nil.
func ResponseHash(normalized any) string {
	if normalized == nil {
		return ""
	}
	return hashJSON(normalized)
}

func hashJSON(v any) string {
	// encoding/json emits map keys in sorted order, which makes the
	// encoding canonical for normalized payloads.
	data, err := json.Marshal(v)
	if err != nil {
		// Normalized payloads are JSON-safe; reaching here means a bug in
		// Normalize, not in the caller. Hash the error text so the receipt
		// still records something stable.
		data = []byte(fmt.Sprintf("unencodable: %v", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
