package api

// executeToolRequest is the body of POST /v1/tools/execute as the sandboxed
// agent's toolbox sends it.
type executeToolRequest struct {
	SessionID string         `json:"session_id"`
	Token     string         `json:"token"`
	Tool      string         `json:"tool"`
	Args      []any          `json:"args"`
	Kwargs    map[string]any `json:"kwargs"`
}
