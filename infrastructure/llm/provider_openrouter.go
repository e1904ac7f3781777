package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

// OpenRouter routes one OpenAI-compatible endpoint to many vendors'
// models, which lets a panel mix judges behind a single API key.
const (
	OpenRouterBaseURL      = "https://openrouter.ai/api/v1"
	OpenRouterDefaultModel = "openai/gpt-4o-mini"
)

func init() {
	RegisterProviderFactory("openrouter", newOpenRouterProvider)
}

// openRouterProvider implements CoreLLM over OpenRouter's chat completions
// endpoint.
type openRouterProvider struct {
	BaseProvider
	client          *resty.Client
	tokenCounter    *TokenCounter
	errorClassifier *ErrorClassifier
}

func newOpenRouterProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	model := config.Model
	if model == "" {
		model = OpenRouterDefaultModel
	}

	baseURL := OpenRouterBaseURL
	if config.BaseURL != "" {
		validatedURL, err := ValidateBaseURL(config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid BaseURL: %w", err)
		}
		baseURL = validatedURL
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(config.APIKey).
		SetHeader("Content-Type", "application/json")
	if timeout := ValidateTimeout(config.Timeout); timeout > 0 {
		client.SetTimeout(timeout)
	}

	return &openRouterProvider{
		BaseProvider:    BaseProvider{model: model},
		client:          client,
		tokenCounter:    NewTokenCounter(),
		errorClassifier: &ErrorClassifier{Provider: "openrouter"},
	}, nil
}

// DoRequest posts one chat completion and reads the first choice with gjson.
func (p *openRouterProvider) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	options := ParseRequestOptions(opts, p.GetModel())

	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(p.buildRequestBody(prompt, options)).
		Post("/chat/completions")
	if err != nil {
		if isContextError(err) {
			return "", 0, 0, p.errorClassifier.ClassifyContextError(err)
		}
		return "", 0, 0, NewProviderError("openrouter", ErrorTypeNetwork, 0, "request failed", err)
	}

	body := resp.String()
	if resp.IsError() {
		message := gjson.Get(body, "error.message").String()
		if message == "" {
			message = http.StatusText(resp.StatusCode())
		}
		return "", 0, 0, p.errorClassifier.ClassifyHTTPError(resp.StatusCode(), message, nil)
	}

	// OpenRouter reports upstream failures inside a 200 response.
	if errMsg := gjson.Get(body, "error.message"); errMsg.Exists() {
		code := int(gjson.Get(body, "error.code").Int())
		return "", 0, 0, p.errorClassifier.ClassifyHTTPError(code, errMsg.String(), nil)
	}

	choices := gjson.Get(body, "choices")
	if !choices.IsArray() || len(choices.Array()) == 0 {
		return "", 0, 0, ErrNoResponseChoice
	}

	content := gjson.Get(body, "choices.0.message.content").String()
	if content == "" {
		return "", 0, 0, ErrEmptyResponse
	}

	return content,
		p.tokenCounter.GetTokenCount(int(gjson.Get(body, "usage.prompt_tokens").Int()), options.System+prompt),
		p.tokenCounter.GetTokenCount(int(gjson.Get(body, "usage.completion_tokens").Int()), content),
		nil
}

func (p *openRouterProvider) buildRequestBody(prompt string, options RequestOptions) map[string]any {
	messages := make([]map[string]string, 0, 2)
	if options.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": options.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": prompt})

	body := map[string]any{
		"model":      options.Model,
		"messages":   messages,
		"max_tokens": options.MaxTokens,
	}
	if options.Temperature != nil {
		body["temperature"] = ClampFloat64(*options.Temperature, 0.0, 2.0)
	}
	if options.TopP != nil {
		body["top_p"] = *options.TopP
	}
	if options.JSON {
		body["response_format"] = map[string]string{"type": "json_object"}
	}
	return body
}
