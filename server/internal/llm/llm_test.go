package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hallyuwire/corehub/server/internal/throttle"
)

// roundTripFunc lets a test stub the HTTP transport the openai client
// issues requests through, without a real network call.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonResponse(status int, body any) *http.Response {
	b, _ := json.Marshal(body)
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader(b)),
		Header:     make(http.Header),
	}
}

func newTestClient(t *testing.T, store ConfigStore, transport roundTripFunc, opts ...Option) *Client {
	t.Helper()
	c := New("test-key", "https://example.test/v1", "gemini-test", 6000, store, zap.NewNop(), opts...)
	c.oa = openai.NewClientWithConfig(func() openai.ClientConfig {
		cfg := openai.DefaultConfig("test-key")
		cfg.BaseURL = "https://example.test/v1"
		cfg.HTTPClient = &http.Client{Transport: transport}
		return cfg
	}())
	return c
}

func chatCompletionReply(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		ID:    "chatcmpl-test",
		Model: "gemini-test",
		Choices: []openai.ChatCompletionChoice{
			{Index: 0, Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content}},
		},
		Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

func TestStripFence_RemovesJSONCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFence("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFence(`{"a":1}`))
}

func TestEstimateTokens_ReturnsPositiveCountForNonEmptyString(t *testing.T) {
	c := newTestClient(t, NewMemConfigStore(), nil)
	assert.Greater(t, c.EstimateTokens("the quick brown fox jumps over the lazy dog"), 0)
}

func TestCallJSON_KillSwitchShortCircuitsBeforeHTTPCall(t *testing.T) {
	store := NewMemConfigStore()
	require.NoError(t, store.SetFlag(context.Background(), "llm.kill_switch", "true"))

	called := false
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		called = true
		return jsonResponse(200, chatCompletionReply("{}")), nil
	})
	c := newTestClient(t, store, transport)

	_, _, err := c.CallJSON(context.Background(), "system", "user")
	assert.ErrorIs(t, err, ErrKillSwitch)
	assert.False(t, called, "HTTP transport should not be reached once the kill switch is engaged")
}

func TestCallJSON_StripsFenceAndReturnsUsage(t *testing.T) {
	store := NewMemConfigStore()
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(200, chatCompletionReply("```json\n{\"ok\":true}\n```")), nil
	})
	c := newTestClient(t, store, transport)

	content, usage, err := c.CallJSON(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, content)
	assert.Equal(t, 15, usage.TotalTokens)
}

func TestCallJSON_TracksMonthlyUsageAndEngagesKillSwitchAtLimit(t *testing.T) {
	store := NewMemConfigStore()
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(200, chatCompletionReply("{}")), nil
	})
	c := newTestClient(t, store, transport, WithMonthlyLimit(20))

	_, _, err := c.CallJSON(context.Background(), "s", "u")
	require.NoError(t, err)
	flag, err := store.GetFlag(context.Background(), "llm.kill_switch")
	require.NoError(t, err)
	assert.Empty(t, flag, "kill switch should not engage before the monthly limit is reached")

	_, _, err = c.CallJSON(context.Background(), "s", "u")
	require.NoError(t, err)
	flag, err = store.GetFlag(context.Background(), "llm.kill_switch")
	require.NoError(t, err)
	assert.Equal(t, "true", flag, "kill switch should engage once cumulative usage crosses the monthly limit")
}

func TestNew_RPMLimiterBlocksOnceTheWindowIsFull(t *testing.T) {
	store := NewMemConfigStore()
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(200, chatCompletionReply("{}")), nil
	})
	c := newTestClient(t, store, transport)
	c.limiter = throttle.NewSlidingWindow(0, 2)

	require.NoError(t, c.limiter.Wait(context.Background()))
	require.NoError(t, c.limiter.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.limiter.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded,
		"a call beyond the configured RPM within the same rolling window must block rather than being admitted immediately")
}

func TestMemConfigStore_IncrCounterAccumulates(t *testing.T) {
	store := NewMemConfigStore()
	total, err := store.IncrCounter(context.Background(), "k", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), total)

	total, err = store.IncrCounter(context.Background(), "k", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(15), total)
}
