package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dev.quorum.engine/internal/models"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicAPIVersion     = "2023-06-01"
)

// AnthropicProvider talks to the Anthropic messages API, which uses a
// top-level system field and x-api-key auth instead of the OpenAI dialect.
type AnthropicProvider struct {
	cfg    models.ProviderConfig
	apiKey string
	client *http.Client
}

func NewAnthropicProvider(cfg models.ProviderConfig, apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		cfg:    cfg,
		apiKey: apiKey,
		client: &http.Client{Timeout: cfg.Timeout()},
	}
}

func (p *AnthropicProvider) Name() string                  { return p.cfg.Name }
func (p *AnthropicProvider) Config() models.ProviderConfig { return p.cfg }

func (p *AnthropicProvider) baseURL() string {
	if p.cfg.BaseURL != "" {
		return strings.TrimRight(p.cfg.BaseURL, "/")
	}
	return anthropicDefaultBaseURL
}

// Generate performs a blocking messages call.
func (p *AnthropicProvider) Generate(ctx context.Context, prompt, system string) (string, error) {
	payload := struct {
		Model     string        `json:"model"`
		System    string        `json:"system,omitempty"`
		MaxTokens int           `json:"max_tokens"`
		Messages  []chatMessage `json:"messages"`
	}{
		Model:     p.cfg.ModelID,
		System:    system,
		MaxTokens: adapterMaxTokens,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	var lastErr error
	delay := time.Second
	for attempt := 0; attempt <= transportRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		text, retryable, err := p.once(ctx, body)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return "", models.WrapError(models.KindProvider, fmt.Sprintf("provider %s", p.cfg.Name), lastErr)
}

func (p *AnthropicProvider) once(ctx context.Context, body []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL()+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", retryableStatus(resp.StatusCode),
			fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var parsed struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", false, err
	}

	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", false, fmt.Errorf("empty response")
	}
	return sb.String(), false, nil
}

// RegisterDefaults installs the built-in provider kinds. The openai kind
// serves every OpenAI-compatible vendor via BaseURL.
func RegisterDefaults(r *Registry) {
	r.Register("openai", func(cfg models.ProviderConfig, credential string) (Provider, error) {
		return NewOpenAIProvider(cfg, credential), nil
	})
	r.Register("anthropic", func(cfg models.ProviderConfig, credential string) (Provider, error) {
		return NewAnthropicProvider(cfg, credential), nil
	})
	RegisterScripted(r)
}
