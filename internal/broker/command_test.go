package broker

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommandSubscribeDefaults(t *testing.T) {
	cmd, err := ParseCommand([]byte(`{"command":"subscribe","topic":"t1"}`))
	require.NoError(t, err)
	sub, ok := cmd.(*SubscribeCmd)
	require.True(t, ok)
	assert.Equal(t, "t1", sub.Topic)
	assert.Equal(t, int64(-1), sub.LastSeen)
	assert.True(t, sub.Cache)
}

func TestParseCommandSubscribeExplicitFields(t *testing.T) {
	cmd, err := ParseCommand([]byte(`{"command":"subscribe","topic":"t1","last_seen":3,"cache":false}`))
	require.NoError(t, err)
	sub := cmd.(*SubscribeCmd)
	assert.Equal(t, int64(3), sub.LastSeen)
	assert.False(t, sub.Cache)
}

func TestParseCommandSendRequiresDelivery(t *testing.T) {
	_, err := ParseCommand([]byte(`{"command":"send","topic":"t1","msg":"hi"}`))
	requireMalformed(t, err)
}

func TestParseCommandSendInvalidDeliveryValue(t *testing.T) {
	_, err := ParseCommand([]byte(`{"command":"send","topic":"t1","msg":"hi","delivery":"invalid"}`))
	requireMalformed(t, err)
}

func TestParseCommandUnknownCommand(t *testing.T) {
	_, err := ParseCommand([]byte(`{"command":"unknown"}`))
	requireMalformed(t, err)
}

func TestParseCommandMissingCommandField(t *testing.T) {
	_, err := ParseCommand([]byte(`{"topic":"t1"}`))
	requireMalformed(t, err)
}

func TestParseCommandRejectsUnknownFields(t *testing.T) {
	_, err := ParseCommand([]byte(`{"command":"subscribe","topic":"t1","extra":1}`))
	requireMalformed(t, err)
}

func TestParseCommandRejectsWrongType(t *testing.T) {
	// "cache" must be a bool, not an int.
	_, err := ParseCommand([]byte(`{"command":"subscribe","topic":"t1","cache":1}`))
	requireMalformed(t, err)

	// "last_seen" must be an integer, not a bool.
	_, err = ParseCommand([]byte(`{"command":"subscribe","topic":"t1","last_seen":true}`))
	requireMalformed(t, err)
}

func TestParseCommandInvalidJSON(t *testing.T) {
	_, err := ParseCommand([]byte(`not json`))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonParseJSON, verr.Reason)
}

func TestParseCommandNonObjectJSON(t *testing.T) {
	_, err := ParseCommand([]byte(`[1,2,3]`))
	requireMalformed(t, err)
}

func TestParseCommandUnsubscribe(t *testing.T) {
	cmd, err := ParseCommand([]byte(`{"command":"unsubscribe","topic":"t1"}`))
	require.NoError(t, err)
	u := cmd.(*UnsubscribeCmd)
	assert.Equal(t, "t1", u.Topic)
}

func TestParseCommandMessageSizeBoundaries(t *testing.T) {
	// Mirrors the spec's message-size boundary cases: small, 1 KiB, 10 KiB,
	// and just under the 64 KiB minimum chunk size the transport reader
	// guarantees in one read.
	for _, size := range []int{100, 1024, 10 * 1024, 64*1024 - 256} {
		msg := strings.Repeat("a", size)
		line, err := json.Marshal(map[string]any{
			"command": "send", "topic": "t", "msg": msg, "delivery": "all",
		})
		require.NoError(t, err)

		cmd, err := ParseCommand(line)
		require.NoError(t, err)
		send, ok := cmd.(*SendCmd)
		require.True(t, ok)
		assert.Len(t, send.Msg, size)
		assert.Equal(t, msg, send.Msg)
	}
}

func TestParseCommandTopicLengthBoundaries(t *testing.T) {
	for _, size := range []int{1, 256, 1024} {
		topic := strings.Repeat("t", size)
		line, err := json.Marshal(map[string]any{"command": "subscribe", "topic": topic})
		require.NoError(t, err)

		cmd, err := ParseCommand(line)
		require.NoError(t, err)
		sub, ok := cmd.(*SubscribeCmd)
		require.True(t, ok)
		assert.Equal(t, topic, sub.Topic)
	}
}

func TestParseCommandQuoteContainingTopic(t *testing.T) {
	topic := `weird"topic\with\backslashes`
	line, err := json.Marshal(map[string]any{"command": "subscribe", "topic": topic})
	require.NoError(t, err)

	cmd, err := ParseCommand(line)
	require.NoError(t, err)
	sub := cmd.(*SubscribeCmd)
	assert.Equal(t, topic, sub.Topic)
}

func requireMalformed(t *testing.T, err error) {
	t.Helper()
	var verr *ValidationError
	req := require.New(t)
	req.ErrorAs(err, &verr)
	req.Equal(ReasonMalformed, verr.Reason)
}
