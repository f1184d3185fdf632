package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dteixeira/mmbridge/pkg/telemetry"
)

const openaiAPIURL = "https://api.openai.com/v1/chat/completions"

// OpenAIInvoker talks to any OpenAI-compatible chat-completions endpoint.
// Local image paths are inlined as base64 data URLs in multimodal content
// parts.
type OpenAIInvoker struct {
	apiKey       string
	baseURL      string
	model        string
	systemPrompt string
	maxTokens    int
	httpClient   *http.Client
}

type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	MaxTokens    int
}

func NewOpenAIInvoker(cfg OpenAIConfig) (*OpenAIInvoker, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key not set (provide it or set OPENAI_API_KEY)")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = openaiAPIURL
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	return &OpenAIInvoker{
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		maxTokens:    cfg.MaxTokens,
		httpClient:   &http.Client{Timeout: 120 * time.Second},
	}, nil
}

func (o *OpenAIInvoker) Name() string { return "openai" }

type openaiRequest struct {
	Model     string          `json:"model"`
	Messages  []openaiMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openaiContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openaiImageURL `json:"image_url,omitempty"`
}

type openaiImageURL struct {
	URL string `json:"url"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (o *OpenAIInvoker) Invoke(ctx context.Context, req Request) (*Response, error) {
	apiReq := openaiRequest{
		Model:     o.model,
		MaxTokens: o.maxTokens,
	}

	if o.systemPrompt != "" {
		apiReq.Messages = append(apiReq.Messages, openaiMessage{
			Role: RoleSystem, Content: o.systemPrompt,
		})
	}

	for _, m := range req.History {
		apiReq.Messages = append(apiReq.Messages, openaiMessage{
			Role: m.Role, Content: m.Content,
		})
	}

	user, err := buildUserMessage(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvocation, err)
	}
	apiReq.Messages = append(apiReq.Messages, user)

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request: %v", ErrInvocation, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvocation, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	start := time.Now()
	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvocation, err)
	}
	defer resp.Body.Close()
	telemetry.Metrics.ModelLatency.WithLabelValues(o.model).Observe(time.Since(start).Seconds())

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrInvocation, err)
	}

	var parsed openaiResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrInvocation, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(data))
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrInvocation, resp.StatusCode, msg)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices", ErrInvocation)
	}

	return &Response{Text: parsed.Choices[0].Message.Content}, nil
}

func buildUserMessage(req Request) (openaiMessage, error) {
	if len(req.ImagePaths) == 0 {
		return openaiMessage{Role: RoleUser, Content: req.Text}, nil
	}

	parts := []openaiContentPart{}
	if req.Text != "" {
		parts = append(parts, openaiContentPart{Type: "text", Text: req.Text})
	}
	for _, p := range req.ImagePaths {
		url, err := imageDataURL(p)
		if err != nil {
			return openaiMessage{}, err
		}
		parts = append(parts, openaiContentPart{
			Type:     "image_url",
			ImageURL: &openaiImageURL{URL: url},
		})
	}
	return openaiMessage{Role: RoleUser, Content: parts}, nil
}

func imageDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading image %s: %w", path, err)
	}
	mime := "image/png"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		mime = "image/jpeg"
	case ".gif":
		mime = "image/gif"
	case ".webp":
		mime = "image/webp"
	case ".bmp":
		mime = "image/bmp"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
