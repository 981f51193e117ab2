package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hunterwarburton/sage/internal/core"
)

func testMessages() []core.Message {
	return []core.Message{
		{Role: core.RoleSystem, Content: "You are helpful."},
		{Role: core.RoleUser, Content: "What is Agno?"},
	}
}

func TestCompleteReturnsContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultModel, req.Model)
		assert.False(t, req.Stream)
		assert.Len(t, req.Messages, 2)

		fmt.Fprint(w, `{
			"choices": [{"finish_reason": "stop", "message": {"role": "assistant", "content": "Agno is an agent framework."}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 8, "total_tokens": 18}
		}`)
	}))
	defer server.Close()

	svc := NewDeepSeekService("test-key", WithBaseURL(server.URL))
	content, err := svc.Complete(context.Background(), testMessages(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Agno is an agent framework.", content)
}

func TestCompleteSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"message": "rate limit exceeded", "type": "rate_limit"}}`)
	}))
	defer server.Close()

	svc := NewDeepSeekService("test-key", WithBaseURL(server.URL))
	_, err := svc.Complete(context.Background(), testMessages(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrGenerationFailed)
	assert.Contains(t, err.Error(), "rate limit exceeded")
}

func TestCompleteErrorEnvelopeWith200(t *testing.T) {
	// Some providers ship error envelopes with a 200 status.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"error": {"message": "invalid model"}}`)
	}))
	defer server.Close()

	svc := NewDeepSeekService("test-key", WithBaseURL(server.URL))
	_, err := svc.Complete(context.Background(), testMessages(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrGenerationFailed)
	assert.Contains(t, err.Error(), "invalid model")
}

func TestCompleteEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"choices": []}`)
	}))
	defer server.Close()

	svc := NewDeepSeekService("test-key", WithBaseURL(server.URL))
	_, err := svc.Complete(context.Background(), testMessages(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrGenerationFailed)
}

func TestCompleteStreamsDeltas(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Agno \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"is an \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"agent framework.\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	svc := NewDeepSeekService("test-key", WithBaseURL(server.URL))

	var deltas []string
	content, err := svc.Complete(context.Background(), testMessages(), func(delta string) {
		deltas = append(deltas, delta)
	})
	require.NoError(t, err)

	assert.Equal(t, "Agno is an agent framework.", content)
	assert.Equal(t, []string{"Agno ", "is an ", "agent framework."}, deltas)
	assert.Equal(t, content, strings.Join(deltas, ""))
}

func TestCompleteStreamWithoutContentFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	svc := NewDeepSeekService("test-key", WithBaseURL(server.URL))
	_, err := svc.Complete(context.Background(), testMessages(), func(string) {})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrGenerationFailed)
}
