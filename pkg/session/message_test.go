package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		typ     MessageType
		wantErr bool
	}{
		{"full envelope", `{"type":"user_message","payload":{"content":"hi"},"thread_id":"t1","timestamp":1700000000.5}`, TypeUserMessage, false},
		{"no payload", `{"type":"ping"}`, TypePing, false},
		{"unknown type preserved", `{"type":"something_new","payload":{}}`, "something_new", false},
		{"missing type", `{"payload":{}}`, "", true},
		{"not json", `hello`, "", true},
		{"payload not object", `{"type":"ping","payload":[1,2]}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseMessage([]byte(tt.raw))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMessageFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.typ, msg.Type())
			assert.NotNil(t, msg.Payload())
		})
	}
}

func TestParseMessageTimestamp(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"ping","timestamp":1700000000.25}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), msg.Timestamp().Unix())
	assert.InDelta(t, 250*time.Millisecond, time.Duration(msg.Timestamp().Nanosecond()), float64(time.Millisecond))
}

func TestMessageEnvelope(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	msg := NewMessage(TypeAgentResponse, map[string]any{"content": "x"}, ForUser("u1"), InThread("t1"), At(ts))

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, "agent_response", wire["type"])
	assert.Equal(t, "u1", wire["user_id"])
	assert.Equal(t, "t1", wire["thread_id"])
	assert.Equal(t, float64(1700000000), wire["timestamp"])
	assert.Equal(t, "x", payloadOf(wire)["content"])

	bare, err := json.Marshal(NewMessage(TypeAck, nil))
	require.NoError(t, err)
	assert.NotContains(t, string(bare), "user_id")
	assert.Contains(t, string(bare), `"payload":{}`)
}

func TestMessageImmutable(t *testing.T) {
	src := map[string]any{"k": "v"}
	msg := NewMessage(TypeSystemMessage, src)
	src["k"] = "changed"
	assert.Equal(t, "v", msg.Payload()["k"])

	p := msg.Payload()
	p["k"] = "mutated"
	assert.Equal(t, "v", msg.Payload()["k"])
}

func TestKnownTypes(t *testing.T) {
	for _, typ := range []MessageType{TypeConnect, TypeDisconnect, TypePing, TypePong, TypeHeartbeat, TypeAck, TypeError, TypeUserMessage} {
		assert.True(t, typ.Known(), typ)
	}
	assert.False(t, MessageType("nope").Known())
}
