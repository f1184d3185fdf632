package qq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	defaultAPIBase  = "https://api.sgroup.qq.com"
	defaultTokenURL = "https://bots.qq.com/app/getAppAccessToken"
)

// QQ rich media file types.
const (
	fileTypeImage = 1
	fileTypeVideo = 2
	fileTypeVoice = 3
)

// client speaks the QQ bot open API: app access tokens, the websocket
// gateway URL, and C2C message/file calls.
type client struct {
	apiBase    string
	tokenURL   string
	appID      string
	secret     string
	httpClient *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func newClient(apiBase, tokenURL, appID, secret string) *client {
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	return &client{
		apiBase:    apiBase,
		tokenURL:   tokenURL,
		appID:      appID,
		secret:     secret,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	body, _ := json.Marshal(map[string]string{
		"appId":        c.appID,
		"clientSecret": c.secret,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("qq: token request: %w", err)
	}
	defer resp.Body.Close()

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("qq: decoding token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("qq: token request returned empty token")
	}

	expires, err := strconv.Atoi(parsed.ExpiresIn)
	if err != nil || expires <= 0 {
		expires = 7200
	}

	c.token = parsed.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(expires-60) * time.Second)
	return c.token, nil
}

func (c *client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("qq: encoding payload: %w", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "QQBot "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qq: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("qq: %s %s: status %d: code %d: %s", method, path, resp.StatusCode, apiErr.Code, apiErr.Message)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("qq: decoding response from %s: %w", path, err)
		}
	}
	return nil
}

func (c *client) gatewayURL(ctx context.Context) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/gateway", nil, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", fmt.Errorf("qq: gateway returned empty url")
	}
	return out.URL, nil
}

type c2cMessageParams struct {
	Content string          `json:"content,omitempty"`
	MsgType int             `json:"msg_type"`
	Media   json.RawMessage `json:"media,omitempty"`
	MsgID   string          `json:"msg_id,omitempty"`
	MsgSeq  int             `json:"msg_seq,omitempty"`
}

func (c *client) postC2CMessage(ctx context.Context, openID string, params c2cMessageParams) error {
	return c.doJSON(ctx, http.MethodPost, "/v2/users/"+openID+"/messages", params, nil)
}

// postC2CFile registers a public URL as rich media and returns the media
// descriptor to embed in a msg_type 7 message.
func (c *client) postC2CFile(ctx context.Context, openID string, fileType int, url string) (json.RawMessage, error) {
	payload := map[string]any{
		"file_type":    fileType,
		"url":          url,
		"srv_send_msg": false,
	}
	var out json.RawMessage
	if err := c.doJSON(ctx, http.MethodPost, "/v2/users/"+openID+"/files", payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}
