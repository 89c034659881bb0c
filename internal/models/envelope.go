package models

import (
	"bytes"
	"encoding/json"
)

// Envelope is the wrapper the remote API puts around every payload
type Envelope struct {
	Code      *int            `json:"code"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

// Succeeded is true for the business success codes 200 and 0
func (e Envelope) Succeeded() bool {
	return e.Code != nil && (*e.Code == 200 || *e.Code == 0)
}

// ParseEnvelope returns false when the body is not an envelope, i.e. it is not a JSON
// object or it has no code field. Such bodies are passed through unchanged.
func ParseEnvelope(body []byte) (Envelope, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, false
	}
	var env Envelope
	err := json.Unmarshal(trimmed, &env)
	if err != nil || env.Code == nil {
		return Envelope{}, false
	}
	return env, true
}
