// Package httpapi wires the gin handlers for the public backend API, the
// embeddable widget, the marketing landing page, and the admin dashboard.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/PromtiorLabs/chat_svc/internal/assistant"
	"github.com/PromtiorLabs/chat_svc/internal/model"
	"github.com/PromtiorLabs/chat_svc/internal/storage"
)

const (
	errorValueInvalidJSON    = "invalid_json"
	errorValueMissingMessage = "missing_message"
	errorValueMissingFields  = "missing_fields"
	errorValueInvalidEmail   = "invalid_email"
	errorValueUnknownRecord  = "unknown_record"
	errorValueSaveFailed     = "save_failed"
	errorValueQueryFailed    = "query_failed"
	errorValueReplyFailed    = "reply_failed"
	errorValueRateLimited    = "rate_limited"

	jsonKeyError = "error"

	defaultRateWindow        = 30 * time.Second
	defaultMaxRequestsPerIP  = 12
	interactionsOldestFirst  = false
	interactionsNewestOrder  = true
	conversationEmailParam   = "email"
	searchTermQueryParameter = "user_name"
)

// BackendHandlers serves the conversation-log backend API.
type BackendHandlers struct {
	database    *gorm.DB
	provider    assistant.Provider
	logger      *zap.Logger
	rateLimiter *ipRateLimiter
}

// NewBackendHandlers constructs BackendHandlers with the provided dependencies.
func NewBackendHandlers(database *gorm.DB, provider assistant.Provider, logger *zap.Logger) *BackendHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BackendHandlers{
		database:    database,
		provider:    provider,
		logger:      logger,
		rateLimiter: newIPRateLimiter(defaultRateWindow, defaultMaxRequestsPerIP),
	}
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

type interactionEntryPayload struct {
	Timestamp   time.Time `json:"timestamp"`
	UserMessage string    `json:"user_message"`
	BotResponse string    `json:"bot_response"`
}

type interactionRecordPayload struct {
	UserEmail    string                    `json:"user_email"`
	UserName     string                    `json:"user_name"`
	Interactions []interactionEntryPayload `json:"interactions"`
}

type logUserActivityRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// CreateChatReply produces an assistant reply for one visitor message.
func (h *BackendHandlers) CreateChatReply(context *gin.Context) {
	if h.rateLimiter.isRateLimited(context.ClientIP()) {
		context.JSON(http.StatusTooManyRequests, gin.H{jsonKeyError: errorValueRateLimited})
		return
	}

	var payload chatRequest
	if bindErr := context.BindJSON(&payload); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	payload.Message = strings.TrimSpace(payload.Message)
	if payload.Message == "" {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueMissingMessage})
		return
	}

	reply, replyErr := h.provider.Reply(context.Request.Context(), payload.Message, payload.CompanyName, payload.ChatName)
	if replyErr != nil {
		h.logger.Warn("chat_reply", zap.Error(replyErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueReplyFailed})
		return
	}

	context.JSON(http.StatusOK, chatResponse{Reply: reply})
}

// LogInteraction appends interaction entries to the visitor's conversation,
// creating the conversation when it does not exist yet.
func (h *BackendHandlers) LogInteraction(context *gin.Context) {
	if h.rateLimiter.isRateLimited(context.ClientIP()) {
		context.JSON(http.StatusTooManyRequests, gin.H{jsonKeyError: errorValueRateLimited})
		return
	}

	var payload interactionRecordPayload
	if bindErr := context.BindJSON(&payload); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	if strings.TrimSpace(payload.UserEmail) == "" || len(payload.Interactions) == 0 {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueMissingFields})
		return
	}

	conversation, findErr := storage.FindOrCreateConversation(context.Request.Context(), h.database, payload.UserEmail, payload.UserName)
	if findErr != nil {
		h.respondConversationError(context, findErr)
		return
	}

	entries := make([]model.InteractionInput, 0, len(payload.Interactions))
	for _, entry := range payload.Interactions {
		entries = append(entries, model.InteractionInput{
			Timestamp:   entry.Timestamp,
			UserMessage: entry.UserMessage,
			BotResponse: entry.BotResponse,
		})
	}

	if appendErr := storage.AppendInteractions(context.Request.Context(), h.database, conversation.ID, entries); appendErr != nil {
		if errors.Is(appendErr, model.ErrInvalidInteractionMessage) {
			context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueMissingFields})
			return
		}
		h.logger.Warn("append_interactions", zap.Error(appendErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
		return
	}

	context.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// LogUserActivity records a validated visitor, creating the conversation when absent.
func (h *BackendHandlers) LogUserActivity(context *gin.Context) {
	if h.rateLimiter.isRateLimited(context.ClientIP()) {
		context.JSON(http.StatusTooManyRequests, gin.H{jsonKeyError: errorValueRateLimited})
		return
	}

	var payload logUserActivityRequest
	if bindErr := context.BindJSON(&payload); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	if strings.TrimSpace(payload.Email) == "" {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueMissingFields})
		return
	}

	if _, findErr := storage.FindOrCreateConversation(context.Request.Context(), h.database, payload.Email, payload.Name); findErr != nil {
		h.respondConversationError(context, findErr)
		return
	}

	context.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListInteractions returns every conversation with its interactions in
// chronological order.
func (h *BackendHandlers) ListInteractions(ginContext *gin.Context) {
	conversations, listErr := storage.AllConversations(ginContext.Request.Context(), h.database)
	if listErr != nil {
		h.logger.Warn("list_conversations", zap.Error(listErr))
		ginContext.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}

	records, buildErr := h.toRecordPayloads(ginContext.Request.Context(), conversations, interactionsOldestFirst)
	if buildErr != nil {
		h.logger.Warn("load_interactions", zap.Error(buildErr))
		ginContext.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}

	ginContext.JSON(http.StatusOK, records)
}

// SearchInteractions returns conversations whose visitor name contains the
// term, with the most recent interactions first. A blank or unmatched term
// yields an empty list.
func (h *BackendHandlers) SearchInteractions(ginContext *gin.Context) {
	term := ginContext.Query(searchTermQueryParameter)
	conversations, searchErr := storage.SearchConversationsByName(ginContext.Request.Context(), h.database, term)
	if searchErr != nil {
		h.logger.Warn("search_conversations", zap.Error(searchErr))
		ginContext.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}

	records, buildErr := h.toRecordPayloads(ginContext.Request.Context(), conversations, interactionsNewestOrder)
	if buildErr != nil {
		h.logger.Warn("load_interactions", zap.Error(buildErr))
		ginContext.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}

	ginContext.JSON(http.StatusOK, records)
}

// InteractionsByEmail returns the single record for one visitor email.
func (h *BackendHandlers) InteractionsByEmail(ginContext *gin.Context) {
	email := strings.TrimSpace(ginContext.Param(conversationEmailParam))
	if email == "" {
		ginContext.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueMissingFields})
		return
	}

	conversation, findErr := storage.FindConversationByEmail(ginContext.Request.Context(), h.database, email)
	if findErr != nil {
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			ginContext.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueUnknownRecord})
			return
		}
		h.logger.Warn("find_conversation", zap.Error(findErr))
		ginContext.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}

	record, buildErr := h.toRecordPayload(ginContext.Request.Context(), conversation, interactionsOldestFirst)
	if buildErr != nil {
		h.logger.Warn("load_interactions", zap.Error(buildErr))
		ginContext.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}

	ginContext.JSON(http.StatusOK, record)
}

func (h *BackendHandlers) respondConversationError(ginContext *gin.Context, conversationErr error) {
	if errors.Is(conversationErr, model.ErrInvalidConversationEmail) {
		ginContext.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidEmail})
		return
	}
	if errors.Is(conversationErr, model.ErrInvalidConversationName) {
		ginContext.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueMissingFields})
		return
	}
	h.logger.Warn("save_conversation", zap.Error(conversationErr))
	ginContext.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
}

func (h *BackendHandlers) toRecordPayloads(ctx context.Context, conversations []model.Conversation, newestFirst bool) ([]interactionRecordPayload, error) {
	records := make([]interactionRecordPayload, 0, len(conversations))
	for _, conversation := range conversations {
		record, buildErr := h.toRecordPayload(ctx, conversation, newestFirst)
		if buildErr != nil {
			return nil, buildErr
		}
		records = append(records, record)
	}
	return records, nil
}

func (h *BackendHandlers) toRecordPayload(ctx context.Context, conversation model.Conversation, newestFirst bool) (interactionRecordPayload, error) {
	interactions, loadErr := storage.ConversationInteractions(ctx, h.database, conversation.ID, newestFirst)
	if loadErr != nil {
		return interactionRecordPayload{}, loadErr
	}

	entries := make([]interactionEntryPayload, 0, len(interactions))
	for _, interaction := range interactions {
		entries = append(entries, interactionEntryPayload{
			Timestamp:   interaction.Timestamp.UTC(),
			UserMessage: interaction.UserMessage,
			BotResponse: interaction.BotResponse,
		})
	}

	return interactionRecordPayload{
		UserEmail:    conversation.UserEmail,
		UserName:     conversation.UserName,
		Interactions: entries,
	}, nil
}
