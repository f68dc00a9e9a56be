// ABOUTME: Tests for the wire model and its decode helpers.
// ABOUTME: Covers terminal detection, configuration equality, and malformed input.

package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeResponseMissingLastIsNotTerminal(t *testing.T) {
	payload := []byte(`{"requestId":"r1","botResponse":{"messages":[{"text":"hi"}]},"context":{"date":"2026-01-02T15:04:05Z"}}`)
	resp, err := DecodeResponse(payload)
	require.NoError(t, err)

	assert.False(t, resp.Terminal())
	assert.Equal(t, "r1", resp.RequestID)
	require.NotNil(t, resp.BotResponse)
	assert.Equal(t, "hi", resp.BotResponse.Messages[0].Text)
}

func TestDecodeResponseLastTrueIsTerminal(t *testing.T) {
	payload := []byte(`{"requestId":"r1","context":{"date":"2026-01-02T15:04:05Z","last":true}}`)
	resp, err := DecodeResponse(payload)
	require.NoError(t, err)

	assert.True(t, resp.Terminal())
}

func TestDecodeResponseMalformed(t *testing.T) {
	_, err := DecodeResponse([]byte(`{not json`))
	assert.Error(t, err)
}

func TestDecodeRequestRoundTrip(t *testing.T) {
	req := NewUserRequestData("r2", &UserRequest{
		UserID: "u1",
		Text:   "hello",
	})

	payload, err := Marshal(req)
	require.NoError(t, err)

	decoded, err := DecodeRequest(payload)
	require.NoError(t, err)
	assert.Equal(t, "r2", decoded.RequestID)
	assert.False(t, decoded.Configuration)
	require.NotNil(t, decoded.BotRequest)
	assert.Equal(t, "hello", decoded.BotRequest.Text)
}

func TestNewConfigurationProbe(t *testing.T) {
	probe := NewConfigurationProbe("p1")

	assert.True(t, probe.Configuration)
	assert.Nil(t, probe.BotRequest)
}

func TestClientConfigurationEqual(t *testing.T) {
	a := &ClientConfiguration{
		ProtocolVersion: 3,
		Streaming:       true,
		Stories:         []StoryConfiguration{{StoryID: "greet", MainIntent: "hello"}},
	}
	b := &ClientConfiguration{
		ProtocolVersion: 3,
		Streaming:       true,
		Stories:         []StoryConfiguration{{StoryID: "greet", MainIntent: "hello"}},
	}

	assert.True(t, a.Equal(b))

	b.Stories[0].MainIntent = "hi"
	assert.False(t, a.Equal(b))

	assert.False(t, a.Equal(nil))

	var nilCfg *ClientConfiguration
	assert.True(t, nilCfg.Equal(nil))
}

func TestTerminalOnNil(t *testing.T) {
	var resp *ResponseData
	assert.False(t, resp.Terminal())
}

func TestResponseContextDateSurvivesRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	resp := &ResponseData{
		RequestID: "r3",
		Context:   ResponseContext{Date: at, Last: true},
	}

	payload, err := Marshal(resp)
	require.NoError(t, err)

	decoded, err := DecodeResponse(payload)
	require.NoError(t, err)
	assert.True(t, decoded.Context.Date.Equal(at))
}
