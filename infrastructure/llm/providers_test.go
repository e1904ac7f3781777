package llm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/ahrav/go-rubric/internal/ports"
)

// capturedRequest is what a fake provider endpoint saw.
type capturedRequest struct {
	path    string
	headers http.Header
	body    string
}

func fakeEndpoint(t *testing.T, status int, response string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		captured.path = r.URL.Path
		captured.headers = r.Header.Clone()
		captured.body = string(body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(server.Close)
	return server, captured
}

var jsonRequestOpts = map[string]any{
	OptSystem:         "You are an evaluator.",
	OptResponseFormat: ResponseFormatJSON,
	OptTemperature:    0.2,
}

func TestOpenAIProvider_DoRequest(t *testing.T) {
	server, captured := fakeEndpoint(t, http.StatusOK, `{
		"id": "chatcmpl-1",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"totalScore\": 7}"}}],
		"usage": {"prompt_tokens": 42, "completion_tokens": 6}
	}`)

	core, err := newOpenAIProvider(ClientConfig{APIKey: "sk-test", Model: "gpt-4.1", BaseURL: server.URL + "/v1"})
	require.NoError(t, err)

	resp, in, out, err := core.DoRequest(context.Background(), "grade", jsonRequestOpts)
	require.NoError(t, err)
	assert.Equal(t, `{"totalScore": 7}`, resp)
	assert.Equal(t, 42, in)
	assert.Equal(t, 6, out)

	assert.Equal(t, "/v1/chat/completions", captured.path)
	assert.Equal(t, "Bearer sk-test", captured.headers.Get("Authorization"))
	assert.Equal(t, "gpt-4.1", gjson.Get(captured.body, "model").String())
	assert.Equal(t, "system", gjson.Get(captured.body, "messages.0.role").String())
	assert.Equal(t, "grade", gjson.Get(captured.body, "messages.1.content").String())
	assert.Equal(t, "json_object", gjson.Get(captured.body, "response_format.type").String())
}

func TestOpenAIProvider_RateLimited(t *testing.T) {
	server, _ := fakeEndpoint(t, http.StatusTooManyRequests,
		`{"error": {"message": "Rate limit reached", "type": "requests", "code": "rate_limit_exceeded"}}`)

	core, err := newOpenAIProvider(ClientConfig{APIKey: "sk-test", Model: "gpt-4.1", BaseURL: server.URL + "/v1"})
	require.NoError(t, err)

	_, _, _, err = core.DoRequest(context.Background(), "grade", nil)
	require.Error(t, err)

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrorTypeRateLimit, pe.Type)
	assert.ErrorIs(t, err, ports.ErrRateLimited)
	assert.True(t, pe.IsRetryable())
}

func TestOpenAIProvider_NoChoices(t *testing.T) {
	server, _ := fakeEndpoint(t, http.StatusOK, `{"id": "x", "choices": []}`)

	core, err := newOpenAIProvider(ClientConfig{APIKey: "sk-test", BaseURL: server.URL + "/v1"})
	require.NoError(t, err)
	assert.Equal(t, OpenAIDefaultModel, core.GetModel())

	_, _, _, err = core.DoRequest(context.Background(), "grade", nil)
	assert.ErrorIs(t, err, ErrNoResponseChoice)
}

func TestOpenRouterProvider_DoRequest(t *testing.T) {
	server, captured := fakeEndpoint(t, http.StatusOK, `{
		"choices": [{"message": {"role": "assistant", "content": "{\"totalScore\": 9}"}}],
		"usage": {"prompt_tokens": 30, "completion_tokens": 4}
	}`)

	core, err := newOpenRouterProvider(ClientConfig{
		APIKey:  "or-test",
		Model:   "anthropic/claude-3.5-sonnet",
		BaseURL: server.URL,
	})
	require.NoError(t, err)

	resp, in, out, err := core.DoRequest(context.Background(), "grade", jsonRequestOpts)
	require.NoError(t, err)
	assert.Equal(t, `{"totalScore": 9}`, resp)
	assert.Equal(t, 30, in)
	assert.Equal(t, 4, out)

	assert.Equal(t, "/chat/completions", captured.path)
	assert.Equal(t, "Bearer or-test", captured.headers.Get("Authorization"))
	assert.Equal(t, "anthropic/claude-3.5-sonnet", gjson.Get(captured.body, "model").String())
	assert.Equal(t, "You are an evaluator.", gjson.Get(captured.body, "messages.0.content").String())
	assert.Equal(t, "json_object", gjson.Get(captured.body, "response_format.type").String())
	assert.InDelta(t, 0.2, gjson.Get(captured.body, "temperature").Float(), 1e-9)
}

func TestOpenRouterProvider_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType ErrorType
		wantMsg  string
	}{
		{
			name:     "http error",
			status:   http.StatusUnauthorized,
			body:     `{"error": {"message": "No auth credentials found", "code": 401}}`,
			wantType: ErrorTypeAuthentication,
		},
		{
			name:     "upstream error inside 200",
			status:   http.StatusOK,
			body:     `{"error": {"message": "Provider returned error", "code": 502}}`,
			wantType: ErrorTypeServerError,
			wantMsg:  "Provider returned error",
		},
		{
			name:     "bad request",
			status:   http.StatusBadRequest,
			body:     `{"error": {"message": "model not found"}}`,
			wantType: ErrorTypeBadRequest,
			wantMsg:  "model not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := fakeEndpoint(t, tt.status, tt.body)
			core, err := newOpenRouterProvider(ClientConfig{APIKey: "or-test", BaseURL: server.URL})
			require.NoError(t, err)

			_, _, _, err = core.DoRequest(context.Background(), "grade", nil)
			var pe *ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.wantType, pe.Type)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, pe.Message)
			}
		})
	}
}

func TestOpenRouterProvider_EmptyChoices(t *testing.T) {
	server, _ := fakeEndpoint(t, http.StatusOK, `{"choices": []}`)
	core, err := newOpenRouterProvider(ClientConfig{APIKey: "or-test", BaseURL: server.URL})
	require.NoError(t, err)

	_, _, _, err = core.DoRequest(context.Background(), "grade", nil)
	assert.ErrorIs(t, err, ErrNoResponseChoice)
}

func TestAnthropicProvider_DoRequest(t *testing.T) {
	server, captured := fakeEndpoint(t, http.StatusOK, `{
		"id": "msg_1",
		"type": "message",
		"role": "assistant",
		"model": "claude-sonnet-4-20250514",
		"content": [{"type": "text", "text": "{\"totalScore\": "}, {"type": "text", "text": "8}"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 50, "output_tokens": 9}
	}`)

	core, err := newAnthropicProvider(ClientConfig{APIKey: "ant-test", BaseURL: server.URL})
	require.NoError(t, err)

	resp, in, out, err := core.DoRequest(context.Background(), "grade", map[string]any{
		OptSystem:      "You are an evaluator.",
		OptTemperature: 1.7,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"totalScore": 8}`, resp)
	assert.Equal(t, 50, in)
	assert.Equal(t, 9, out)

	assert.Equal(t, "/v1/messages", captured.path)
	assert.Equal(t, "ant-test", captured.headers.Get("X-Api-Key"))
	assert.Equal(t, AnthropicDefaultModel, gjson.Get(captured.body, "model").String())
	assert.Equal(t, "You are an evaluator.", gjson.Get(captured.body, "system.0.text").String())
	assert.InDelta(t, 1.0, gjson.Get(captured.body, "temperature").Float(), 1e-9, "temperature is clamped")
}

func TestAnthropicProvider_AuthError(t *testing.T) {
	server, _ := fakeEndpoint(t, http.StatusUnauthorized,
		`{"type": "error", "error": {"type": "authentication_error", "message": "invalid x-api-key"}}`)

	core, err := newAnthropicProvider(ClientConfig{APIKey: "bad", BaseURL: server.URL})
	require.NoError(t, err)

	_, _, _, err = core.DoRequest(context.Background(), "grade", nil)
	assert.ErrorIs(t, err, ports.ErrAuthenticationFailed)
}

func TestGoogleProvider_DoRequest(t *testing.T) {
	server, captured := fakeEndpoint(t, http.StatusOK, `{
		"candidates": [{"content": {"role": "model", "parts": [{"text": "{\"totalScore\": 6}"}]}}],
		"usageMetadata": {"promptTokenCount": 64, "candidatesTokenCount": 5}
	}`)

	core, err := newGoogleProvider(ClientConfig{APIKey: "g-test", Model: "gemini-2.5-pro", BaseURL: server.URL})
	require.NoError(t, err)

	resp, in, out, err := core.DoRequest(context.Background(), "grade", jsonRequestOpts)
	require.NoError(t, err)
	assert.Equal(t, `{"totalScore": 6}`, resp)
	assert.Equal(t, 64, in)
	assert.Equal(t, 5, out)

	assert.Equal(t, "/v1beta/models/gemini-2.5-pro:generateContent", captured.path)
	assert.Equal(t, "g-test", captured.headers.Get("X-Goog-Api-Key"))
	assert.Equal(t, "You are an evaluator.", gjson.Get(captured.body, "systemInstruction.parts.0.text").String())
	assert.Equal(t, "application/json", gjson.Get(captured.body, "generationConfig.responseMimeType").String())
	assert.Equal(t, "grade", gjson.Get(captured.body, "contents.0.parts.0.text").String())
}

func TestGoogleProvider_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType ErrorType
	}{
		{"quota", http.StatusTooManyRequests,
			`{"error": {"code": 429, "message": "Resource has been exhausted", "status": "RESOURCE_EXHAUSTED"}}`,
			ErrorTypeRateLimit},
		{"overloaded", http.StatusServiceUnavailable,
			`{"error": {"code": 503, "message": "The model is overloaded", "status": "UNAVAILABLE"}}`,
			ErrorTypeServerError},
		{"safety", http.StatusBadRequest,
			`{"error": {"code": 400, "message": "Prompt blocked by safety settings", "status": "INVALID_ARGUMENT"}}`,
			ErrorTypeContentPolicy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := fakeEndpoint(t, tt.status, tt.body)
			core, err := newGoogleProvider(ClientConfig{APIKey: "g-test", BaseURL: server.URL})
			require.NoError(t, err)

			_, _, _, err = core.DoRequest(context.Background(), "grade", nil)
			var pe *ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.wantType, pe.Type)
			assert.Equal(t, tt.status, pe.StatusCode)
		})
	}
}

func TestProviders_RejectEmptyKey(t *testing.T) {
	for _, name := range []string{"google", "openai", "anthropic", "openrouter"} {
		factory, ok := GetProviderFactory(name)
		require.True(t, ok, name)
		_, err := factory(ClientConfig{Model: "m"})
		assert.ErrorIs(t, err, ErrEmptyAPIKey, name)
	}
}

func TestProviders_RejectBadBaseURL(t *testing.T) {
	_, err := newOpenRouterProvider(ClientConfig{APIKey: "k", BaseURL: "ftp://example.com"})
	assert.Error(t, err)
}
