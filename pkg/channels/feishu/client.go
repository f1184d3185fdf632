package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"sync"
	"time"
)

const defaultBaseURL = "https://open.feishu.cn"

// client speaks the subset of the Feishu open API this adapter needs:
// tenant token minting, message send/reply, image upload and message
// resource download.
type client struct {
	baseURL    string
	appID      string
	appSecret  string
	httpClient *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func newClient(baseURL, appID, appSecret string) *client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &client{
		baseURL:    baseURL,
		appID:      appID,
		appSecret:  appSecret,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *client) tenantToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	body, _ := json.Marshal(map[string]string{
		"app_id":     c.appID,
		"app_secret": c.appSecret,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/open-apis/auth/v3/tenant_access_token/internal", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("feishu: token request: %w", err)
	}
	defer resp.Body.Close()

	var parsed struct {
		Code              int    `json:"code"`
		Msg               string `json:"msg"`
		TenantAccessToken string `json:"tenant_access_token"`
		Expire            int    `json:"expire"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("feishu: decoding token response: %w", err)
	}
	if parsed.Code != 0 {
		return "", fmt.Errorf("feishu: token request failed: code %d: %s", parsed.Code, parsed.Msg)
	}

	c.token = parsed.TenantAccessToken
	// Refresh a minute early so in-flight calls never race expiry.
	c.tokenExpiry = time.Now().Add(time.Duration(parsed.Expire-60) * time.Second)
	return c.token, nil
}

type apiResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (c *client) postJSON(ctx context.Context, path string, payload any) (json.RawMessage, error) {
	token, err := c.tenantToken(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("feishu: encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feishu: %s: %w", path, err)
	}
	defer resp.Body.Close()

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("feishu: decoding response from %s: %w", path, err)
	}
	if parsed.Code != 0 {
		return nil, fmt.Errorf("feishu: %s failed: code %d: %s", path, parsed.Code, parsed.Msg)
	}
	return parsed.Data, nil
}

// sendMessage posts a message to a chat; replyMessageID switches to the
// threaded-reply endpoint.
func (c *client) sendMessage(ctx context.Context, chatID, replyMessageID, msgType, content string) error {
	payload := map[string]string{
		"msg_type": msgType,
		"content":  content,
	}

	if replyMessageID != "" {
		_, err := c.postJSON(ctx, "/open-apis/im/v1/messages/"+replyMessageID+"/reply", payload)
		return err
	}

	payload["receive_id"] = chatID
	_, err := c.postJSON(ctx, "/open-apis/im/v1/messages?receive_id_type=chat_id", payload)
	return err
}

// uploadImage pushes local image bytes to Feishu and returns the image_key
// used by image messages and cards.
func (c *client) uploadImage(ctx context.Context, path string, data []byte) (string, error) {
	token, err := c.tenantToken(ctx)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("image_type", "message"); err != nil {
		return "", err
	}
	part, err := w.CreateFormFile("image", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/open-apis/im/v1/images", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("feishu: image upload: %w", err)
	}
	defer resp.Body.Close()

	var parsed struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			ImageKey string `json:"image_key"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("feishu: decoding image upload response: %w", err)
	}
	if parsed.Code != 0 {
		return "", fmt.Errorf("feishu: image upload failed: code %d: %s", parsed.Code, parsed.Msg)
	}
	return parsed.Data.ImageKey, nil
}

// downloadResource fetches an embedded file or image attached to a message.
func (c *client) downloadResource(ctx context.Context, messageID, fileKey, resourceType string) ([]byte, error) {
	token, err := c.tenantToken(ctx)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/open-apis/im/v1/messages/%s/resources/%s?type=%s",
		c.baseURL, messageID, fileKey, resourceType)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feishu: resource download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feishu: resource download: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
