package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wrapped bool
		body    string
	}{
		{name: "object", payload: `{"id":"a"}`},
		{name: "array", payload: `[1,2]`, wrapped: true, body: `[1,2]`},
		{name: "number", payload: `42`, wrapped: true, body: `42`},
		{name: "plain text", payload: `not json`, wrapped: true, body: `"not json"`},
		{name: "empty", payload: ``, wrapped: true, body: `""`},
		{name: "null", payload: `null`, wrapped: true, body: `null`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, wrapped := ParseEnvelope([]byte(tt.payload))
			require.Equal(t, tt.wrapped, wrapped)
			if tt.wrapped {
				require.Len(t, env, 1)
				require.JSONEq(t, tt.body, string(env[FieldBody]))
			}
		})
	}
}

func TestEnvelope_Attempts(t *testing.T) {
	for payload, want := range map[string]int{
		`{}`:                 1,
		`{"attempts":4}`:     4,
		`{"attempts":"2"}`:   2,
		`{"attempts":"two"}`: 1,
		`{"attempts":null}`:  1,
	} {
		env, _ := ParseEnvelope([]byte(payload))
		require.Equal(t, want, env.Attempts(), payload)
	}
}

func TestEnvelope_RoundTripPreservesUnknownFields(t *testing.T) {
	env, _ := ParseEnvelope([]byte(`{"id":"o-1","nested":{"a":[1,2]},"attempts":1}`))
	due := time.Date(2024, 3, 1, 12, 0, 20, 0, time.UTC)
	env.SetAttempts(2)
	env.SetAvailableAt(due)
	env.SetOriginalQueue("orders")

	raw, err := env.Marshal()
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"o-1","nested":{"a":[1,2]},"attempts":2,"available_at":1709294420,"original_queue":"orders"}`, string(raw))

	back, _ := ParseEnvelope(raw)
	at, ok := back.AvailableAt()
	require.True(t, ok)
	require.True(t, at.Equal(due))
	q, ok := back.OriginalQueue()
	require.True(t, ok)
	require.Equal(t, "orders", q)
	id, ok := back.String("id")
	require.True(t, ok)
	require.Equal(t, "o-1", id)
	_, ok = back.String("nested")
	require.False(t, ok)
}

func TestEnvelope_MissingDelayFields(t *testing.T) {
	env, _ := ParseEnvelope([]byte(`{"original_queue":"","available_at":"soon"}`))
	_, ok := env.AvailableAt()
	require.False(t, ok)
	_, ok = env.OriginalQueue()
	require.False(t, ok)
}
