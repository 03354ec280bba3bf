// Package client is a JSON/HTTP client for the chat backend API. The chat
// session controller and the dashboard query layer both talk to the backend
// through it; the base URL is externally configured.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultRequestTimeout = 30 * time.Second

	chatPath             = "/api/chat"
	logInteractionPath   = "/api/log_interaction"
	logUserActivityPath  = "/api/log_user_activity"
	interactionsPath     = "/api/interactions"
	searchPath           = "/api/interactions/search"
	searchQueryParameter = "user_name"

	contentTypeHeaderName = "Content-Type"
	contentTypeJSONValue  = "application/json"
)

// InteractionEntry is one message/response pair of an interaction record.
type InteractionEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	UserMessage string    `json:"user_message"`
	BotResponse string    `json:"bot_response"`
}

// InteractionRecord is the backend-owned append log of one visitor's exchanges.
type InteractionRecord struct {
	UserEmail    string             `json:"user_email"`
	UserName     string             `json:"user_name"`
	Interactions []InteractionEntry `json:"interactions"`
}

// StatusError reports a non-success backend response status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (statusError *StatusError) Error() string {
	return fmt.Sprintf("client: backend status %d: %s", statusError.StatusCode, statusError.Body)
}

// TimeoutClass reports whether the status indicates a likely-transient
// gateway/timeout failure worth an automatic retry.
func (statusError *StatusError) TimeoutClass() bool {
	switch statusError.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Client issues requests against the chat backend API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for the given backend base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func (backendClient *Client) WithHTTPClient(httpClient *http.Client) *Client {
	backendClient.httpClient = httpClient
	return backendClient
}

type chatRequest struct {
	Message     string `json:"message"`
	CompanyName string `json:"company_name"`
	ChatName    string `json:"chat_name"`
	UserEmail   string `json:"user_email"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

type logUserActivityRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Chat sends one visitor message and returns the assistant reply.
func (backendClient *Client) Chat(ctx context.Context, message string, companyName string, chatName string, userEmail string) (string, error) {
	var parsed chatResponse
	requestErr := backendClient.postJSON(ctx, chatPath, chatRequest{
		Message:     message,
		CompanyName: companyName,
		ChatName:    chatName,
		UserEmail:   userEmail,
	}, &parsed)
	if requestErr != nil {
		return "", requestErr
	}
	return parsed.Reply, nil
}

// LogInteraction records a single-entry interaction for the visitor.
func (backendClient *Client) LogInteraction(ctx context.Context, userEmail string, userName string, timestamp time.Time, userMessage string, botResponse string) error {
	return backendClient.postJSON(ctx, logInteractionPath, InteractionRecord{
		UserEmail: userEmail,
		UserName:  userName,
		Interactions: []InteractionEntry{
			{Timestamp: timestamp, UserMessage: userMessage, BotResponse: botResponse},
		},
	}, nil)
}

// LogUserActivity records that a visitor validated their identity.
func (backendClient *Client) LogUserActivity(ctx context.Context, email string, name string) error {
	return backendClient.postJSON(ctx, logUserActivityPath, logUserActivityRequest{Email: email, Name: name}, nil)
}

// ListInteractions fetches every stored interaction record.
func (backendClient *Client) ListInteractions(ctx context.Context) ([]InteractionRecord, error) {
	var records []InteractionRecord
	if requestErr := backendClient.getJSON(ctx, interactionsPath, &records); requestErr != nil {
		return nil, requestErr
	}
	return records, nil
}

// InteractionsByEmail fetches the record for one visitor email.
func (backendClient *Client) InteractionsByEmail(ctx context.Context, email string) (InteractionRecord, error) {
	var record InteractionRecord
	path := interactionsPath + "/" + url.PathEscape(strings.TrimSpace(email))
	if requestErr := backendClient.getJSON(ctx, path, &record); requestErr != nil {
		return InteractionRecord{}, requestErr
	}
	return record, nil
}

// SearchInteractions fetches records whose visitor name contains the term.
func (backendClient *Client) SearchInteractions(ctx context.Context, term string) ([]InteractionRecord, error) {
	query := url.Values{}
	query.Set(searchQueryParameter, strings.TrimSpace(term))
	var records []InteractionRecord
	if requestErr := backendClient.getJSON(ctx, searchPath+"?"+query.Encode(), &records); requestErr != nil {
		return nil, requestErr
	}
	return records, nil
}

func (backendClient *Client) postJSON(ctx context.Context, path string, payload any, result any) error {
	encodedPayload, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return fmt.Errorf("client: marshal request: %w", marshalErr)
	}

	request, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, backendClient.baseURL+path, bytes.NewReader(encodedPayload))
	if requestErr != nil {
		return fmt.Errorf("client: create request: %w", requestErr)
	}
	request.Header.Set(contentTypeHeaderName, contentTypeJSONValue)

	return backendClient.execute(request, result)
}

func (backendClient *Client) getJSON(ctx context.Context, path string, result any) error {
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodGet, backendClient.baseURL+path, nil)
	if requestErr != nil {
		return fmt.Errorf("client: create request: %w", requestErr)
	}
	return backendClient.execute(request, result)
}

func (backendClient *Client) execute(request *http.Request, result any) error {
	response, doErr := backendClient.httpClient.Do(request)
	if doErr != nil {
		return fmt.Errorf("client: execute request: %w", doErr)
	}
	defer func() {
		_ = response.Body.Close()
	}()

	responseBody, readErr := io.ReadAll(response.Body)
	if readErr != nil {
		return fmt.Errorf("client: read response: %w", readErr)
	}

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return &StatusError{StatusCode: response.StatusCode, Body: strings.TrimSpace(string(responseBody))}
	}

	if result != nil && len(responseBody) > 0 {
		if unmarshalErr := json.Unmarshal(responseBody, result); unmarshalErr != nil {
			return fmt.Errorf("client: unmarshal response: %w", unmarshalErr)
		}
	}

	return nil
}
