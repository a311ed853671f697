// Package tavus is a minimal client for the Tavus conversational video API.
//
// Only the two calls kokoro needs are implemented: creating a conversation
// and ending it. Requests carry the API key in the x-api-key header.
package tavus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBaseURL = "https://tavusapi.com"

// maxErrorBody bounds how much of a failed response body is kept in errors.
const maxErrorBody = 1024

// ErrNotFound is returned when the provider does not know the conversation.
var ErrNotFound = errors.New("tavus: conversation not found")

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tavus: status %d: %s", e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client calls the Tavus API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Client. An empty baseURL uses the public API host.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ConversationProperties are the per-call limits sent with a create request.
type ConversationProperties struct {
	MaxCallDuration          int    `json:"max_call_duration,omitempty"`
	ParticipantLeftTimeout   int    `json:"participant_left_timeout,omitempty"`
	ParticipantAbsentTimeout int    `json:"participant_absent_timeout,omitempty"`
	EnableRecording          bool   `json:"enable_recording,omitempty"`
	EnableTranscription      bool   `json:"enable_transcription,omitempty"`
	Language                 string `json:"language,omitempty"`
}

// CreateConversationRequest is the body of POST /v2/conversations.
type CreateConversationRequest struct {
	ReplicaID             string                 `json:"replica_id"`
	PersonaID             string                 `json:"persona_id"`
	ConversationName      string                 `json:"conversation_name,omitempty"`
	ConversationalContext string                 `json:"conversational_context,omitempty"`
	CustomGreeting        string                 `json:"custom_greeting,omitempty"`
	CallbackURL           string                 `json:"callback_url,omitempty"`
	Properties            ConversationProperties `json:"properties"`
}

// Conversation is the provider's view of a conversation.
type Conversation struct {
	ConversationID   string `json:"conversation_id"`
	ConversationName string `json:"conversation_name"`
	ConversationURL  string `json:"conversation_url"`
	Status           string `json:"status"`
	CallbackURL      string `json:"callback_url"`
	CreatedAt        string `json:"created_at"`
}

// CreateConversation provisions a new conversation. The returned conversation
// always has a non-empty ConversationID; ConversationURL may be empty and is
// the caller's concern.
func (c *Client) CreateConversation(ctx context.Context, req CreateConversationRequest) (Conversation, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Conversation{}, fmt.Errorf("tavus: marshal request: %w", err)
	}

	var conv Conversation
	if err := c.do(ctx, http.MethodPost, "/v2/conversations", body, &conv); err != nil {
		return Conversation{}, err
	}
	if conv.ConversationID == "" {
		return Conversation{}, fmt.Errorf("tavus: create conversation: response has no conversation_id")
	}
	return conv, nil
}

// EndConversation ends a running conversation.
func (c *Client) EndConversation(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return fmt.Errorf("tavus: end conversation: empty conversation id")
	}
	return c.do(ctx, http.MethodPost, "/v2/conversations/"+url.PathEscape(conversationID)+"/end", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("tavus: create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tavus: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw, resp.Status)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("tavus: decode response: %w", err)
	}
	return nil
}

// errorMessage extracts {"message": ...} or {"error": ...} from an error body,
// falling back to the raw text.
func errorMessage(raw []byte, status string) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &parsed) == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	if s := strings.TrimSpace(string(raw)); s != "" {
		return s
	}
	return status
}
