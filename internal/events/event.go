// Package events defines the progress events workers publish for each run and
// the publisher used to emit them. Events travel as JSON envelopes over the
// run's broker channel and are re-framed by the SSE gateway.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type denotes the kind of progress event.
type Type string

// Supported event types.
const (
	// TypeStatus reports run lifecycle changes and running counters.
	TypeStatus Type = "status"
	// TypeRecord carries the extracted data of one successful URL.
	TypeRecord Type = "record"
	// TypeURLError reports a single URL that failed without ending the run.
	TypeURLError Type = "url_error"
	// TypePing keeps idle SSE connections alive.
	TypePing Type = "ping"
	// TypeError tells stream consumers a broker message could not be parsed.
	TypeError Type = "error"
)

// Envelope is the wire form of every published event.
type Envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// StatusPayload is the data of a TypeStatus event. Counter fields are
// pointers so early lifecycle events can omit counters they do not know yet.
type StatusPayload struct {
	RecordsExtracted *int   `json:"records_extracted,omitempty"`
	Status           string `json:"status"`
	FailedURLs       *int   `json:"failed_urls,omitempty"`
	Error            string `json:"error,omitempty"`
	FinalAttempt     bool   `json:"final_attempt,omitempty"`
}

// URLErrorPayload is the data of a TypeURLError event.
type URLErrorPayload struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// PingPayload is the data of a TypePing keepalive.
type PingPayload struct {
	Timestamp string `json:"timestamp"`
}

// ErrorPayload is the data of a TypeError event.
type ErrorPayload struct {
	Detail string `json:"detail"`
}

// Int returns a pointer to v for optional counter fields.
func Int(v int) *int {
	return &v
}

// Encode wraps a payload in an Envelope and marshals it.
func Encode(t Type, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	raw, err := json.Marshal(Envelope{Type: t, Data: data})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", t, err)
	}
	return raw, nil
}

// Decode parses a broker message back into an Envelope.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode event: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, errors.New("decode event: missing type")
	}
	return env, nil
}
