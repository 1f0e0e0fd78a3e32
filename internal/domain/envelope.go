package domain

import (
	"encoding/json"
	"strconv"
	"time"
)

// Envelope is the JSON object view of a message payload. Redelivery bookkeeping lives in
// the attempts, available_at and original_queue fields; every other field is carried
// through untouched.
type Envelope map[string]json.RawMessage

const (
	FieldAttempts      = "attempts"
	FieldAvailableAt   = "available_at"
	FieldOriginalQueue = "original_queue"
	// FieldBody holds a payload that was not a JSON object when it was first wrapped.
	FieldBody = "body"
)

// ParseEnvelope decodes payload as a JSON object. A payload that is not an object is
// wrapped under FieldBody; wrapped reports whether that happened.
func ParseEnvelope(payload []byte) (env Envelope, wrapped bool) {
	env = Envelope{}
	if err := json.Unmarshal(payload, &env); err == nil && env != nil {
		return env, false
	}
	env = Envelope{}
	if json.Valid(payload) && len(payload) > 0 {
		env[FieldBody] = json.RawMessage(payload)
	} else {
		b, _ := json.Marshal(string(payload))
		env[FieldBody] = b
	}
	return env, true
}

// Attempts returns the delivery attempt recorded on the envelope, 1 when absent.
func (e Envelope) Attempts() int {
	raw, ok := e[FieldAttempts]
	if !ok || string(raw) == "null" {
		return 1
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.Atoi(s); err == nil {
			return v
		}
	}
	return 1
}

// SetAttempts records the delivery attempt.
func (e Envelope) SetAttempts(n int) {
	e[FieldAttempts] = json.RawMessage(strconv.Itoa(n))
}

// AvailableAt returns when a delayed message becomes due.
func (e Envelope) AvailableAt() (time.Time, bool) {
	raw, ok := e[FieldAvailableAt]
	if !ok {
		return time.Time{}, false
	}
	var secs float64
	if err := json.Unmarshal(raw, &secs); err != nil {
		return time.Time{}, false
	}
	return time.Unix(int64(secs), 0), true
}

// SetAvailableAt stores t as unix seconds.
func (e Envelope) SetAvailableAt(t time.Time) {
	e[FieldAvailableAt] = json.RawMessage(strconv.FormatInt(t.Unix(), 10))
}

// OriginalQueue returns the queue a delayed message must be returned to.
func (e Envelope) OriginalQueue() (string, bool) {
	raw, ok := e[FieldOriginalQueue]
	if !ok {
		return "", false
	}
	var q string
	if err := json.Unmarshal(raw, &q); err != nil || q == "" {
		return "", false
	}
	return q, true
}

// SetOriginalQueue records the queue to return to.
func (e Envelope) SetOriginalQueue(q string) {
	b, _ := json.Marshal(q)
	e[FieldOriginalQueue] = b
}

// String returns a string field, if present.
func (e Envelope) String(field string) (string, bool) {
	raw, ok := e[field]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Marshal encodes the envelope back into a payload.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(map[string]json.RawMessage(e))
}
