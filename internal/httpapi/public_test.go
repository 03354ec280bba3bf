package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/PromtiorLabs/chat_svc/internal/assistant"
	"github.com/PromtiorLabs/chat_svc/internal/model"
	"github.com/PromtiorLabs/chat_svc/internal/storage"
	"github.com/PromtiorLabs/chat_svc/internal/testutil"
)

const (
	testVisitorEmailValue  = "ana@example.com"
	testVisitorNameValue   = "Ana"
	testVisitorMessage     = "Hola"
	testAssistantReply     = "canned reply"
	testCompanyName        = "Promtior"
	testChatDisplayName    = "Promtior AI Assistant"
	testSecondVisitorEmail = "bruno@example.com"
	testSecondVisitorName  = "Bruno"
)

func newBackendRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database := testutil.NewSQLiteTestDatabase(t).OpenMigrated(t)
	handlers := NewBackendHandlers(database, assistant.NewStaticProvider(testAssistantReply), nil)

	router := gin.New()
	router.POST("/api/chat", handlers.CreateChatReply)
	router.POST("/api/log_interaction", handlers.LogInteraction)
	router.POST("/api/log_user_activity", handlers.LogUserActivity)
	router.GET("/api/interactions", handlers.ListInteractions)
	router.GET("/api/interactions/search", handlers.SearchInteractions)
	router.GET("/api/interactions/:email", handlers.InteractionsByEmail)
	return router, database
}

func performJSONRequest(router *gin.Engine, method string, path string, payload any) *httptest.ResponseRecorder {
	var body *bytes.Reader
	if payload != nil {
		encoded, _ := json.Marshal(payload)
		body = bytes.NewReader(encoded)
	} else {
		body = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, body)
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func TestChatEndpointReturnsProviderReply(t *testing.T) {
	router, _ := newBackendRouter(t)

	recorder := performJSONRequest(router, http.MethodPost, "/api/chat", gin.H{
		"message":      testVisitorMessage,
		"company_name": testCompanyName,
		"chat_name":    testChatDisplayName,
		"user_email":   testVisitorEmailValue,
	})

	require.Equal(t, http.StatusOK, recorder.Code)
	var parsed chatResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &parsed))
	require.Equal(t, testAssistantReply, parsed.Reply)
}

func TestChatEndpointRejectsEmptyMessage(t *testing.T) {
	router, _ := newBackendRouter(t)

	recorder := performJSONRequest(router, http.MethodPost, "/api/chat", gin.H{"message": "   "})
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Contains(t, recorder.Body.String(), errorValueMissingMessage)
}

func TestLogInteractionCreatesConversationAndEntries(t *testing.T) {
	router, database := newBackendRouter(t)

	recorder := performJSONRequest(router, http.MethodPost, "/api/log_interaction", interactionRecordPayload{
		UserEmail: testVisitorEmailValue,
		UserName:  testVisitorNameValue,
		Interactions: []interactionEntryPayload{
			{Timestamp: time.Now().UTC(), UserMessage: testVisitorMessage, BotResponse: testAssistantReply},
		},
	})
	require.Equal(t, http.StatusOK, recorder.Code)

	conversation, findErr := storage.FindConversationByEmail(context.Background(), database, testVisitorEmailValue)
	require.NoError(t, findErr)
	require.Equal(t, testVisitorNameValue, conversation.UserName)

	interactions, loadErr := storage.ConversationInteractions(context.Background(), database, conversation.ID, false)
	require.NoError(t, loadErr)
	require.Len(t, interactions, 1)
	require.Equal(t, testVisitorMessage, interactions[0].UserMessage)
}

func TestLogUserActivityCreatesConversationWithoutInteractions(t *testing.T) {
	router, database := newBackendRouter(t)

	recorder := performJSONRequest(router, http.MethodPost, "/api/log_user_activity", gin.H{
		"email": testVisitorEmailValue,
		"name":  testVisitorNameValue,
	})
	require.Equal(t, http.StatusOK, recorder.Code)

	conversation, findErr := storage.FindConversationByEmail(context.Background(), database, testVisitorEmailValue)
	require.NoError(t, findErr)

	interactions, loadErr := storage.ConversationInteractions(context.Background(), database, conversation.ID, false)
	require.NoError(t, loadErr)
	require.Empty(t, interactions)
}

func TestInteractionsByEmailReturnsNotFoundForUnknownVisitor(t *testing.T) {
	router, _ := newBackendRouter(t)

	recorder := performJSONRequest(router, http.MethodGet, "/api/interactions/"+url.PathEscape("nobody@example.com"), nil)
	require.Equal(t, http.StatusNotFound, recorder.Code)
	require.Contains(t, recorder.Body.String(), errorValueUnknownRecord)
}

func TestListInteractionsReturnsAllConversations(t *testing.T) {
	router, database := newBackendRouter(t)
	seedConversation(t, database, testVisitorEmailValue, testVisitorNameValue, 2)
	seedConversation(t, database, testSecondVisitorEmail, testSecondVisitorName, 1)

	recorder := performJSONRequest(router, http.MethodGet, "/api/interactions", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var records []interactionRecordPayload
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &records))
	require.Len(t, records, 2)
}

func TestSearchInteractionsMatchesCaseInsensitiveAndOrdersNewestFirst(t *testing.T) {
	router, database := newBackendRouter(t)
	seedConversation(t, database, testVisitorEmailValue, testVisitorNameValue, 3)
	seedConversation(t, database, testSecondVisitorEmail, testSecondVisitorName, 1)

	recorder := performJSONRequest(router, http.MethodGet, "/api/interactions/search?user_name=aN", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var records []interactionRecordPayload
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &records))
	require.Len(t, records, 1)
	require.Equal(t, testVisitorEmailValue, records[0].UserEmail)
	require.Len(t, records[0].Interactions, 3)
	require.True(t, records[0].Interactions[0].Timestamp.After(records[0].Interactions[2].Timestamp))
}

func TestSearchInteractionsWithBlankTermReturnsEmptyList(t *testing.T) {
	router, database := newBackendRouter(t)
	seedConversation(t, database, testVisitorEmailValue, testVisitorNameValue, 1)

	recorder := performJSONRequest(router, http.MethodGet, "/api/interactions/search?user_name=", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var records []interactionRecordPayload
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &records))
	require.Empty(t, records)
}

func seedConversation(t *testing.T, database *gorm.DB, email string, name string, interactionCount int) {
	t.Helper()
	conversation, findErr := storage.FindOrCreateConversation(context.Background(), database, email, name)
	require.NoError(t, findErr)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for index := range interactionCount {
		appendErr := storage.AppendInteractions(context.Background(), database, conversation.ID, []model.InteractionInput{
			{
				Timestamp:   base.Add(time.Duration(index) * time.Minute),
				UserMessage: testVisitorMessage,
				BotResponse: testAssistantReply,
			},
		})
		require.NoError(t, appendErr)
	}
}
