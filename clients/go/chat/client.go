// Package chat implements the client side of the realtime chat pipeline: the
// REST client, the socket connection manager, the paginated message window,
// the scroll coordinator and the read-state synchronizer, plus the Pane that
// wires them together for one session.
package chat

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

	"github.com/eldtechnologies/coursechat/internal/models"
)

// DefaultRequestTimeout bounds every REST call when no timeout is configured.
const DefaultRequestTimeout = 10 * time.Second

// Client is a chat backend API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration // per request

	creds Credentials
}

// NewClient creates a client for baseURL. creds may be nil for the
// unauthenticated endpoints (login, health).
func NewClient(baseURL string, creds Credentials, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 2 * timeout},
		Timeout:    timeout,
		creds:      creds,
	}
}

// WithCredentials returns a copy of c that authenticates with creds.
func (c *Client) WithCredentials(creds Credentials) *Client {
	cp := *c
	cp.creds = creds
	return &cp
}

// doRequest performs an HTTP request and decodes a JSON response into out.
func (c *Client) doRequest(ctx context.Context, method, path string, in, out interface{}, authenticated bool) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if authenticated {
		if c.creds == nil {
			return ErrSessionClosed
		}
		token, err := c.creds.Token()
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		if errResp.Error == "" {
			errResp.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// LoginRequest is the request body for logging in.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the bearer token and the authenticated user.
type LoginResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// Login exchanges a username and password for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	var resp LoginResponse
	err := c.doRequest(ctx, http.MethodPost, "/auth/login", LoginRequest{Username: username, Password: password}, &resp, false)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// ConversationsResponse is the response from listing conversations.
type ConversationsResponse struct {
	Data []models.Conversation `json:"data"`
}

// ListConversations returns the caller's conversations, most recent first.
func (c *Client) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var resp ConversationsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/conversations", nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// UserProfile is a user as shown to other users.
type UserProfile struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Online bool   `json:"online"`
}

// GetUser looks up another user's profile.
func (c *Client) GetUser(ctx context.Context, userID string) (*UserProfile, error) {
	var u UserProfile
	if err := c.doRequest(ctx, http.MethodGet, "/users/"+url.PathEscape(userID), nil, &u, true); err != nil {
		return nil, err
	}
	return &u, nil
}

// Register creates an account and returns a token for it.
func (c *Client) Register(ctx context.Context, name, password string, userType models.UserType) (*LoginResponse, error) {
	req := struct {
		Name     string          `json:"name"`
		Password string          `json:"password"`
		Type     models.UserType `json:"type"`
	}{name, password, userType}

	var resp LoginResponse
	if err := c.doRequest(ctx, http.MethodPost, "/auth/register", req, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateConversationRequest is the request body for starting a conversation.
type CreateConversationRequest struct {
	ParticipantID string `json:"participant_id"`
}

// CreateConversation starts (or returns the existing) conversation with
// participantID.
func (c *Client) CreateConversation(ctx context.Context, participantID string) (*models.Conversation, error) {
	var conv models.Conversation
	err := c.doRequest(ctx, http.MethodPost, "/conversations", CreateConversationRequest{ParticipantID: participantID}, &conv, true)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// FetchMessages returns the most recent limit messages of a conversation,
// oldest first, with the server's total count.
func (c *Client) FetchMessages(ctx context.Context, conversationID string, limit int) (*models.MessagePage, error) {
	return c.FetchPage(ctx, conversationID, limit, 1)
}

// FetchPage returns page (1-based, counted back from the newest message) of
// a conversation split into pages of limit messages.
func (c *Client) FetchPage(ctx context.Context, conversationID string, limit, page int) (*models.MessagePage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("page", strconv.Itoa(page))
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages?" + q.Encode()

	var result models.MessagePage
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &result, true); err != nil {
		return nil, err
	}
	return &result, nil
}

// SendMessageRequest is the request body for posting a message.
type SendMessageRequest struct {
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	Body        string `json:"body"`
	LocalID     string `json:"local_id,omitempty"`
}

// SendMessage posts a message and returns the server-authoritative copy.
func (c *Client) SendMessage(ctx context.Context, conversationID string, req SendMessageRequest) (*models.Message, error) {
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"

	var msg models.Message
	if err := c.doRequest(ctx, http.MethodPost, path, req, &msg, true); err != nil {
		return nil, err
	}
	return &msg, nil
}

// MarkSeenRequest is the request body for the batched mark-as-seen call.
type MarkSeenRequest struct {
	MessageIDs []string `json:"message_ids"`
}

// MarkSeenResponse reports how many messages changed state.
type MarkSeenResponse struct {
	Updated int `json:"updated"`
}

// MarkSeen marks a batch of messages in one conversation as seen.
func (c *Client) MarkSeen(ctx context.Context, conversationID string, messageIDs []string) error {
	path := "/conversations/" + url.PathEscape(conversationID) + "/seen"
	return c.doRequest(ctx, http.MethodPost, path, MarkSeenRequest{MessageIDs: messageIDs}, &MarkSeenResponse{}, true)
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/health", nil, &resp, false); err != nil {
		// A degraded backend still answers with a body worth showing.
		if IsStatus(err, http.StatusServiceUnavailable) {
			return &HealthResponse{Status: "degraded"}, nil
		}
		return nil, err
	}
	return &resp, nil
}

// SocketURL derives the realtime endpoint from the REST base URL.
func (c *Client) SocketURL() string {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}
