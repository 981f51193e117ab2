package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hunterwarburton/sage/internal/core"
	"github.com/hunterwarburton/sage/internal/logger"
)

const (
	// DefaultBaseURL is DeepSeek's OpenAI-compatible endpoint.
	DefaultBaseURL = "https://api.deepseek.com/v1"
	// DefaultModel is the chat model used when none is configured.
	DefaultModel = "deepseek-chat"
	// requestTimeout is generous because completions can run long.
	requestTimeout = 120 * time.Second
)

// DeepSeekService talks to an OpenAI-compatible chat completions API.
// Every failure wraps core.ErrGenerationFailed; the service never retries
// on its own.
type DeepSeekService struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// ServiceOption configures a DeepSeekService.
type ServiceOption func(*DeepSeekService)

// WithModel overrides the chat model.
func WithModel(model string) ServiceOption {
	return func(s *DeepSeekService) {
		if model != "" {
			s.model = model
		}
	}
}

// WithBaseURL points the service at a different OpenAI-compatible endpoint.
func WithBaseURL(baseURL string) ServiceOption {
	return func(s *DeepSeekService) {
		if baseURL != "" {
			s.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(c *http.Client) ServiceOption {
	return func(s *DeepSeekService) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// NewDeepSeekService creates a new chat completion service.
func NewDeepSeekService(apiKey string, opts ...ServiceOption) *DeepSeekService {
	s := &DeepSeekService{
		apiKey:     apiKey,
		model:      DefaultModel,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// chatRequest is the wire format of a completion request.
type chatRequest struct {
	Model    string         `json:"model"`
	Messages []core.Message `json:"messages"`
	Stream   bool           `json:"stream,omitempty"`
}

// apiError is the provider's error envelope. It can arrive with any
// status code, so it is checked before the status.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Complete sends the messages and returns the full response text. When
// onDelta is non-nil the request streams and each fragment is forwarded
// as it arrives; the concatenated text is still the return value.
func (s *DeepSeekService) Complete(ctx context.Context, messages []core.Message, onDelta func(string)) (string, error) {
	if onDelta != nil {
		return s.completeStream(ctx, messages, onDelta)
	}
	return s.completeOnce(ctx, messages)
}

func (s *DeepSeekService) completeOnce(ctx context.Context, messages []core.Message) (string, error) {
	body, err := s.send(ctx, chatRequest{Model: s.model, Messages: messages})
	if err != nil {
		return "", err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read response body: %v", core.ErrGenerationFailed, err)
	}

	if msg := errorEnvelope(raw); msg != "" {
		return "", fmt.Errorf("%w: %s", core.ErrGenerationFailed, msg)
	}

	var resp struct {
		Choices []struct {
			FinishReason string       `json:"finish_reason"`
			Message      core.Message `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("%w: failed to decode response: %v", core.ErrGenerationFailed, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: API returned no choices", core.ErrGenerationFailed)
	}

	if resp.Usage.TotalTokens > 0 {
		logger.Info("LLM usage - prompt: %d, completion: %d, total: %d tokens, finish: %s",
			resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens,
			resp.Choices[0].FinishReason)
	}
	return resp.Choices[0].Message.Content, nil
}

func (s *DeepSeekService) completeStream(ctx context.Context, messages []core.Message, onDelta func(string)) (string, error) {
	body, err := s.send(ctx, chatRequest{Model: s.model, Messages: messages, Stream: true})
	if err != nil {
		return "", err
	}
	defer body.Close()

	var full strings.Builder
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var event struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return "", fmt.Errorf("%w: failed to decode stream event: %v", core.ErrGenerationFailed, err)
		}
		if len(event.Choices) > 0 && event.Choices[0].Delta.Content != "" {
			full.WriteString(event.Choices[0].Delta.Content)
			onDelta(event.Choices[0].Delta.Content)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("%w: stream interrupted: %v", core.ErrGenerationFailed, err)
	}
	if full.Len() == 0 {
		return "", fmt.Errorf("%w: stream produced no content", core.ErrGenerationFailed)
	}
	return full.String(), nil
}

// send issues the request and returns the response body on a 2xx status.
// Non-2xx responses are drained for an error envelope first, matching the
// provider's habit of shipping errors with assorted statuses.
func (s *DeepSeekService) send(ctx context.Context, reqBody chatRequest) (io.ReadCloser, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal request: %v", core.ErrGenerationFailed, err)
	}

	url := s.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", core.ErrGenerationFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	logger.Debug("Sending completion request to %s with %d messages (stream=%v)", s.model, len(reqBody.Messages), reqBody.Stream)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to send request: %v", core.ErrGenerationFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if msg := errorEnvelope(raw); msg != "" {
			return nil, fmt.Errorf("%w: %s", core.ErrGenerationFailed, msg)
		}
		return nil, fmt.Errorf("%w: HTTP %d: %s", core.ErrGenerationFailed, resp.StatusCode, string(raw))
	}
	return resp.Body, nil
}

// errorEnvelope extracts the provider error message, if the body holds one.
func errorEnvelope(raw []byte) string {
	var envelope apiError
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		if envelope.Error.Type != "" {
			return fmt.Sprintf("API error (%s): %s", envelope.Error.Type, envelope.Error.Message)
		}
		return "API error: " + envelope.Error.Message
	}
	return ""
}

var _ core.ChatModel = (*DeepSeekService)(nil)
