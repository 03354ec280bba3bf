package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultUpstreamBaseURL = "https://openrouter.ai/api/v1"
	defaultUpstreamTimeout = 90 * time.Second

	chatCompletionsPath = "/chat/completions"

	roleSystem = "system"
	roleUser   = "user"

	systemPromptPattern = "You are %s, the website assistant for %s. Answer briefly and helpfully in the visitor's language."
)

var (
	// ErrMissingUpstreamModel indicates the upstream model configuration was omitted.
	ErrMissingUpstreamModel = errors.New("assistant: missing upstream model")
	// ErrEmptyUpstreamReply indicates the upstream returned no completion choices.
	ErrEmptyUpstreamReply = errors.New("assistant: empty upstream reply")
)

type upstreamMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type upstreamChatRequest struct {
	Model    string            `json:"model"`
	Messages []upstreamMessage `json:"messages"`
}

type upstreamChatResponse struct {
	Choices []struct {
		Message upstreamMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// UpstreamProvider calls a chat-completions inference service for replies.
type UpstreamProvider struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewUpstreamProvider constructs an UpstreamProvider against the given service.
func NewUpstreamProvider(baseURL string, apiKey string, modelName string) *UpstreamProvider {
	trimmedBaseURL := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmedBaseURL == "" {
		trimmedBaseURL = defaultUpstreamBaseURL
	}
	return &UpstreamProvider{
		baseURL:    trimmedBaseURL,
		apiKey:     strings.TrimSpace(apiKey),
		model:      strings.TrimSpace(modelName),
		httpClient: &http.Client{Timeout: defaultUpstreamTimeout},
	}
}

// Reply sends the visitor message to the upstream service and returns its completion.
func (provider *UpstreamProvider) Reply(ctx context.Context, message string, companyName string, chatName string) (string, error) {
	if provider.model == "" {
		return "", ErrMissingUpstreamModel
	}

	requestBody, marshalErr := json.Marshal(upstreamChatRequest{
		Model: provider.model,
		Messages: []upstreamMessage{
			{Role: roleSystem, Content: fmt.Sprintf(systemPromptPattern, chatName, companyName)},
			{Role: roleUser, Content: message},
		},
	})
	if marshalErr != nil {
		return "", fmt.Errorf("assistant: marshal request: %w", marshalErr)
	}

	request, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, provider.baseURL+chatCompletionsPath, bytes.NewReader(requestBody))
	if requestErr != nil {
		return "", fmt.Errorf("assistant: create request: %w", requestErr)
	}
	request.Header.Set("Content-Type", "application/json")
	if provider.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+provider.apiKey)
	}

	response, doErr := provider.httpClient.Do(request)
	if doErr != nil {
		return "", fmt.Errorf("assistant: execute request: %w", doErr)
	}
	defer func() {
		_ = response.Body.Close()
	}()

	responseBody, readErr := io.ReadAll(response.Body)
	if readErr != nil {
		return "", fmt.Errorf("assistant: read response: %w", readErr)
	}
	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("assistant: upstream status %d: %s", response.StatusCode, strings.TrimSpace(string(responseBody)))
	}

	var parsed upstreamChatResponse
	if unmarshalErr := json.Unmarshal(responseBody, &parsed); unmarshalErr != nil {
		return "", fmt.Errorf("assistant: unmarshal response: %w", unmarshalErr)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("assistant: upstream error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", ErrEmptyUpstreamReply
	}

	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
