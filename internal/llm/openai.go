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

	"dev.quorum.engine/internal/models"
)

const (
	openAIDefaultBaseURL = "https://api.openai.com/v1"
	adapterMaxTokens     = 4096
)

// transportRetries covers transient transport failures inside a single
// engine-level attempt. 429 and 5xx are retried with doubling delay.
const transportRetries = 2

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint.
// OpenRouter, Groq, DeepSeek, Ollama and local gateways all speak this
// dialect; BaseURL selects the vendor.
type OpenAIProvider struct {
	cfg    models.ProviderConfig
	apiKey string
	client *http.Client
}

// NewOpenAIProvider builds an adapter for cfg against cfg.BaseURL, or the
// OpenAI API when no base URL is configured.
func NewOpenAIProvider(cfg models.ProviderConfig, apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		cfg:    cfg,
		apiKey: apiKey,
		client: &http.Client{Timeout: cfg.Timeout()},
	}
}

func (p *OpenAIProvider) Name() string                  { return p.cfg.Name }
func (p *OpenAIProvider) Config() models.ProviderConfig { return p.cfg }

func (p *OpenAIProvider) baseURL() string {
	if p.cfg.BaseURL != "" {
		return strings.TrimRight(p.cfg.BaseURL, "/")
	}
	return openAIDefaultBaseURL
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Stream    bool          `json:"stream,omitempty"`
}

func (p *OpenAIProvider) buildRequest(prompt, system string, stream bool) ([]byte, error) {
	messages := make([]chatMessage, 0, 2)
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	return json.Marshal(chatRequest{
		Model:     p.cfg.ModelID,
		Messages:  messages,
		MaxTokens: adapterMaxTokens,
		Stream:    stream,
	})
}

func (p *OpenAIProvider) do(ctx context.Context, body []byte, accept string) (*http.Response, error) {
	var lastErr error
	delay := time.Second

	for attempt := 0; attempt <= transportRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			p.baseURL()+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", accept)
		if p.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.apiKey)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if retryableStatus(resp.StatusCode) {
			payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d from %s: %s", resp.StatusCode, p.cfg.Name, strings.TrimSpace(string(payload)))
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// Generate performs a blocking chat completion.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt, system string) (string, error) {
	body, err := p.buildRequest(prompt, system, false)
	if err != nil {
		return "", err
	}

	resp, err := p.do(ctx, body, "application/json")
	if err != nil {
		return "", models.WrapError(models.KindProvider, fmt.Sprintf("provider %s", p.cfg.Name), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", models.NewError(models.KindProvider,
			fmt.Sprintf("provider %s: HTTP %d: %s", p.cfg.Name, resp.StatusCode, strings.TrimSpace(string(payload))))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", models.WrapError(models.KindProvider, fmt.Sprintf("decode %s response", p.cfg.Name), err)
	}
	if parsed.Error != nil {
		return "", models.NewError(models.KindProvider,
			fmt.Sprintf("provider %s: %s", p.cfg.Name, parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return "", models.NewError(models.KindProvider,
			fmt.Sprintf("provider %s returned no choices", p.cfg.Name))
	}
	return parsed.Choices[0].Message.Content, nil
}

// GenerateStream performs an SSE chat completion, emitting deltas as they
// arrive and returning the concatenated text.
func (p *OpenAIProvider) GenerateStream(ctx context.Context, prompt, system string, onDelta func(string)) (string, error) {
	body, err := p.buildRequest(prompt, system, true)
	if err != nil {
		return "", err
	}

	resp, err := p.do(ctx, body, "text/event-stream")
	if err != nil {
		return "", models.WrapError(models.KindProvider, fmt.Sprintf("provider %s", p.cfg.Name), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", models.NewError(models.KindProvider,
			fmt.Sprintf("provider %s: HTTP %d: %s", p.cfg.Name, resp.StatusCode, strings.TrimSpace(string(payload))))
	}

	var sb strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		for _, c := range chunk.Choices {
			if c.Delta.Content == "" {
				continue
			}
			sb.WriteString(c.Delta.Content)
			if onDelta != nil {
				onDelta(c.Delta.Content)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", models.WrapError(models.KindProvider, fmt.Sprintf("stream from %s", p.cfg.Name), err)
	}
	return sb.String(), nil
}
