package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testInvoker(t *testing.T, handler http.HandlerFunc) *OpenAIInvoker {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	inv, err := NewOpenAIInvoker(OpenAIConfig{
		APIKey:       "test-key",
		BaseURL:      srv.URL,
		Model:        "gpt-4o",
		SystemPrompt: "be helpful",
	})
	if err != nil {
		t.Fatalf("NewOpenAIInvoker: %v", err)
	}
	return inv
}

func completionJSON(text string) string {
	return `{"choices":[{"message":{"content":` + jsonQuote(text) + `}}]}`
}

func jsonQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestInvokeText(t *testing.T) {
	var captured openaiRequest
	inv := testInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		json.NewDecoder(r.Body).Decode(&captured)
		w.Write([]byte(completionJSON("the answer")))
	})

	resp, err := inv.Invoke(context.Background(), Request{
		Text: "a question",
		History: []Message{
			{Role: RoleUser, Content: "earlier"},
			{Role: RoleAssistant, Content: "reply"},
		},
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if resp.Text != "the answer" {
		t.Errorf("Text = %q", resp.Text)
	}

	// system prompt, two history messages, the user message
	if len(captured.Messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(captured.Messages))
	}
	if captured.Messages[0].Role != RoleSystem {
		t.Errorf("first role = %q, want system", captured.Messages[0].Role)
	}
	if captured.Messages[3].Content != "a question" {
		t.Errorf("user content = %v", captured.Messages[3].Content)
	}
}

func TestInvokeWithImages(t *testing.T) {
	img := filepath.Join(t.TempDir(), "cat.jpg")
	if err := os.WriteFile(img, []byte("jpegdata"), 0o600); err != nil {
		t.Fatal(err)
	}

	var raw map[string]any
	inv := testInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&raw)
		w.Write([]byte(completionJSON("a cat")))
	})

	_, err := inv.Invoke(context.Background(), Request{
		Text:       "what is this?",
		ImagePaths: []string{img},
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	msgs := raw["messages"].([]any)
	user := msgs[len(msgs)-1].(map[string]any)
	parts, ok := user["content"].([]any)
	if !ok {
		t.Fatalf("user content should be multimodal parts, got %T", user["content"])
	}
	if len(parts) != 2 {
		t.Fatalf("parts = %d, want text + image", len(parts))
	}
	imgPart := parts[1].(map[string]any)
	url := imgPart["image_url"].(map[string]any)["url"].(string)
	if !strings.HasPrefix(url, "data:image/jpeg;base64,") {
		t.Errorf("image url = %q, want a jpeg data URL", url)
	}
}

func TestInvokeMissingImage(t *testing.T) {
	inv := testInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(completionJSON("never reached")))
	})

	_, err := inv.Invoke(context.Background(), Request{
		Text:       "look",
		ImagePaths: []string{filepath.Join(t.TempDir(), "missing.png")},
	})
	if !errors.Is(err, ErrInvocation) {
		t.Fatalf("err = %v, want ErrInvocation", err)
	}
}

func TestInvokeAPIError(t *testing.T) {
	inv := testInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	})

	_, err := inv.Invoke(context.Background(), Request{Text: "hi"})
	if !errors.Is(err, ErrInvocation) {
		t.Fatalf("err = %v, want ErrInvocation", err)
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("err %v should carry the API message", err)
	}
}

func TestInvokeEmptyChoices(t *testing.T) {
	inv := testInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	})

	_, err := inv.Invoke(context.Background(), Request{Text: "hi"})
	if !errors.Is(err, ErrInvocation) {
		t.Fatalf("err = %v, want ErrInvocation", err)
	}
}

func TestNewOpenAIInvokerRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewOpenAIInvoker(OpenAIConfig{}); err == nil {
		t.Fatal("missing key should fail")
	}
}
