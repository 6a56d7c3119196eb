// Package slackapi is a small Slack Web API and Socket Mode client
// covering exactly the surface the bot and the offline pipelines need.
package slackapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type Client struct {
	http     *http.Client
	baseURL  string
	botToken string
	appToken string
}

// New builds a client. appToken (xapp-...) is only needed for Socket Mode
// and may be empty for offline use.
func New(httpClient *http.Client, baseURL, botToken, appToken string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL = strings.TrimSpace(strings.TrimRight(baseURL, "/"))
	if baseURL == "" {
		baseURL = "https://slack.com/api"
	}
	return &Client{
		http:     httpClient,
		baseURL:  baseURL,
		botToken: strings.TrimSpace(botToken),
		appToken: strings.TrimSpace(appToken),
	}
}

type AuthTestResult struct {
	TeamID string
	UserID string
	BotID  string
	Team   string
	User   string
}

type authTestResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	TeamID string `json:"team_id,omitempty"`
	UserID string `json:"user_id,omitempty"`
	BotID  string `json:"bot_id,omitempty"`
	Team   string `json:"team,omitempty"`
	User   string `json:"user,omitempty"`
}

func (c *Client) AuthTest(ctx context.Context) (AuthTestResult, error) {
	if c == nil {
		return AuthTestResult{}, fmt.Errorf("slack client is not initialized")
	}
	body, status, _, err := c.postAuthJSON(ctx, c.botToken, "/auth.test", nil)
	if err != nil {
		return AuthTestResult{}, err
	}
	if status < 200 || status >= 300 {
		return AuthTestResult{}, fmt.Errorf("slack auth.test http %d", status)
	}
	var out authTestResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return AuthTestResult{}, err
	}
	if !out.OK {
		return AuthTestResult{}, fmt.Errorf("slack auth.test failed: %s", errorCode(out.Error))
	}
	return AuthTestResult{
		TeamID: strings.TrimSpace(out.TeamID),
		UserID: strings.TrimSpace(out.UserID),
		BotID:  strings.TrimSpace(out.BotID),
		Team:   strings.TrimSpace(out.Team),
		User:   strings.TrimSpace(out.User),
	}, nil
}

type openConnectionResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	URL   string `json:"url,omitempty"`
}

func (c *Client) openSocketURL(ctx context.Context) (string, error) {
	if c == nil {
		return "", fmt.Errorf("slack client is not initialized")
	}
	if c.appToken == "" {
		return "", fmt.Errorf("slack app token is required for socket mode")
	}
	body, status, _, err := c.postAuthJSON(ctx, c.appToken, "/apps.connections.open", nil)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("slack apps.connections.open http %d", status)
	}
	var out openConnectionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if !out.OK {
		return "", fmt.Errorf("slack apps.connections.open failed: %s", errorCode(out.Error))
	}
	socketURL := strings.TrimSpace(out.URL)
	if socketURL == "" {
		return "", fmt.Errorf("slack apps.connections.open returned empty url")
	}
	return socketURL, nil
}

// ConnectSocket opens a Socket Mode websocket connection.
func (c *Client) ConnectSocket(ctx context.Context) (*websocket.Conn, error) {
	socketURL, err := c.openSocketURL(ctx)
	if err != nil {
		return nil, err
	}
	dialer := *websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, socketURL, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Attachment is the legacy Slack attachment shape, including the
// interactive-button fields the notify-owner flow relies on.
type Attachment struct {
	Title      string             `json:"title,omitempty"`
	Text       string             `json:"text,omitempty"`
	Fallback   string             `json:"fallback,omitempty"`
	Color      string             `json:"color,omitempty"`
	CallbackID string             `json:"callback_id,omitempty"`
	Fields     []AttachmentField  `json:"fields,omitempty"`
	Actions    []AttachmentAction `json:"actions,omitempty"`
}

type AttachmentField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type AttachmentAction struct {
	Name    string         `json:"name"`
	Text    string         `json:"text"`
	Type    string         `json:"type"`
	Value   string         `json:"value,omitempty"`
	Confirm *ActionConfirm `json:"confirm,omitempty"`
}

type ActionConfirm struct {
	Title       string `json:"title"`
	Text        string `json:"text"`
	OkText      string `json:"ok_text"`
	DismissText string `json:"dismiss_text"`
}

type postMessageRequest struct {
	Channel     string       `json:"channel"`
	Text        string       `json:"text,omitempty"`
	User        string       `json:"user,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type postMessageResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	TS    string `json:"ts,omitempty"`
}

// PostMessage posts a channel message. Rate-limited (429) and 5xx
// responses are retried a bounded number of times; API-level errors are
// not.
func (c *Client) PostMessage(ctx context.Context, channelID, text string, attachments []Attachment) error {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return fmt.Errorf("channel_id is required")
	}
	if strings.TrimSpace(text) == "" && len(attachments) == 0 {
		return fmt.Errorf("text or attachments are required")
	}
	return c.postChat(ctx, "/chat.postMessage", postMessageRequest{
		Channel:     channelID,
		Text:        text,
		Attachments: attachments,
	})
}

// PostEphemeral posts a message only the given user can see.
func (c *Client) PostEphemeral(ctx context.Context, channelID, userID, text string, attachments []Attachment) error {
	channelID = strings.TrimSpace(channelID)
	userID = strings.TrimSpace(userID)
	if channelID == "" {
		return fmt.Errorf("channel_id is required")
	}
	if userID == "" {
		return fmt.Errorf("user_id is required")
	}
	if strings.TrimSpace(text) == "" && len(attachments) == 0 {
		return fmt.Errorf("text or attachments are required")
	}
	return c.postChat(ctx, "/chat.postEphemeral", postMessageRequest{
		Channel:     channelID,
		User:        userID,
		Text:        text,
		Attachments: attachments,
	})
}

func (c *Client) postChat(ctx context.Context, path string, payload postMessageRequest) error {
	const maxAttempts = 3
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		body, status, headers, err := c.postAuthJSON(ctx, c.botToken, path, payload)
		if err != nil {
			lastErr = err
		} else {
			var out postMessageResponse
			if parseErr := json.Unmarshal(body, &out); parseErr != nil {
				lastErr = parseErr
			} else if status < 200 || status >= 300 {
				lastErr = fmt.Errorf("slack %s http %d", strings.TrimPrefix(path, "/"), status)
			} else if out.OK {
				return nil
			} else {
				lastErr = fmt.Errorf("slack %s failed: %s", strings.TrimPrefix(path, "/"), errorCode(out.Error))
			}
		}

		if attempt >= maxAttempts {
			break
		}
		wait, retryable := retryDelay(status, headers, attempt)
		if !retryable {
			break
		}
		if err := sleepWithContext(ctx, wait); err != nil {
			return err
		}
	}
	return lastErr
}

type openConversationResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Channel struct {
		ID string `json:"id"`
	} `json:"channel"`
}

// OpenConversation opens (or resumes) a direct-message channel with the
// given user and returns its channel id.
func (c *Client) OpenConversation(ctx context.Context, userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("user_id is required")
	}
	body, status, _, err := c.postAuthJSON(ctx, c.botToken, "/conversations.open", map[string]string{"users": userID})
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("slack conversations.open http %d", status)
	}
	var out openConversationResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if !out.OK {
		return "", fmt.Errorf("slack conversations.open failed: %s", errorCode(out.Error))
	}
	channelID := strings.TrimSpace(out.Channel.ID)
	if channelID == "" {
		return "", fmt.Errorf("slack conversations.open returned empty channel id")
	}
	return channelID, nil
}

// User is one entry of the workspace directory.
type User struct {
	ID      string      `json:"id"`
	Deleted bool        `json:"deleted"`
	IsBot   bool        `json:"is_bot"`
	Profile UserProfile `json:"profile"`
}

type UserProfile struct {
	RealName string `json:"real_name"`
	Email    string `json:"email"`
}

type usersListResponse struct {
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
	Members  []User `json:"members"`
	Metadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

// UsersList fetches the full workspace user directory, following
// pagination cursors. Order is as Slack returns it, which is stable
// enough for reproducible reconciliation runs.
func (c *Client) UsersList(ctx context.Context) ([]User, error) {
	if c == nil {
		return nil, fmt.Errorf("slack client is not initialized")
	}
	var users []User
	cursor := ""
	for {
		params := url.Values{"limit": {"200"}}
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		body, status, _, err := c.getAuth(ctx, c.botToken, "/users.list", params)
		if err != nil {
			return nil, err
		}
		if status < 200 || status >= 300 {
			return nil, fmt.Errorf("slack users.list http %d", status)
		}
		var out usersListResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, err
		}
		if !out.OK {
			return nil, fmt.Errorf("slack users.list failed: %s", errorCode(out.Error))
		}
		users = append(users, out.Members...)
		cursor = strings.TrimSpace(out.Metadata.NextCursor)
		if cursor == "" {
			return users, nil
		}
	}
}

func retryDelay(status int, headers http.Header, attempt int) (time.Duration, bool) {
	switch {
	case status == http.StatusTooManyRequests:
		retryAfter := strings.TrimSpace(headers.Get("Retry-After"))
		if retryAfter == "" {
			return 1 * time.Second, true
		}
		secs, err := strconv.Atoi(retryAfter)
		if err != nil || secs <= 0 {
			return 1 * time.Second, true
		}
		return time.Duration(secs) * time.Second, true
	case status >= 500 && status <= 599:
		switch attempt {
		case 1:
			return 300 * time.Millisecond, true
		case 2:
			return 1 * time.Second, true
		default:
			return 2 * time.Second, true
		}
	default:
		return 0, false
	}
}

// SleepWithContext waits for d or until the context is done.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	return sleepWithContext(ctx, d)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func errorCode(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return "unknown_error"
	}
	return code
}

func (c *Client) postAuthJSON(ctx context.Context, token, path string, payload any) ([]byte, int, http.Header, error) {
	if c == nil || c.http == nil {
		return nil, 0, nil, fmt.Errorf("slack client is not initialized")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, 0, nil, fmt.Errorf("slack token is required")
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) getAuth(ctx context.Context, token, path string, params url.Values) ([]byte, int, http.Header, error) {
	if c == nil || c.http == nil {
		return nil, 0, nil, fmt.Errorf("slack client is not initialized")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, 0, nil, fmt.Errorf("slack token is required")
	}
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, int, http.Header, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, resp.StatusCode, resp.Header, readErr
	}
	return raw, resp.StatusCode, resp.Header, nil
}
