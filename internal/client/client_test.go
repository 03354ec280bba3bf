package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testClientEmailValue   = "ana@x.com"
	testClientNameValue    = "Ana"
	testClientMessageValue = "Hello"
	testClientReplyValue   = "Hi there"
	testClientCompanyValue = "Promtior"
	testClientChatValue    = "Promtior AI Assistant"
)

func TestChatPostsPayloadAndReturnsReply(t *testing.T) {
	var receivedPayload map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		require.Equal(t, http.MethodPost, request.Method)
		require.Equal(t, "/api/chat", request.URL.Path)
		require.NoError(t, json.NewDecoder(request.Body).Decode(&receivedPayload))
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"reply":"` + testClientReplyValue + `"}`))
	}))
	defer server.Close()

	backendClient := New(server.URL)
	reply, chatErr := backendClient.Chat(context.Background(), testClientMessageValue, testClientCompanyValue, testClientChatValue, testClientEmailValue)
	require.NoError(t, chatErr)
	require.Equal(t, testClientReplyValue, reply)

	require.Equal(t, testClientMessageValue, receivedPayload["message"])
	require.Equal(t, testClientCompanyValue, receivedPayload["company_name"])
	require.Equal(t, testClientChatValue, receivedPayload["chat_name"])
	require.Equal(t, testClientEmailValue, receivedPayload["user_email"])
}

func TestChatSurfacesStatusErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusGatewayTimeout)
	}))
	defer server.Close()

	backendClient := New(server.URL)
	_, chatErr := backendClient.Chat(context.Background(), testClientMessageValue, testClientCompanyValue, testClientChatValue, testClientEmailValue)

	var statusErr *StatusError
	require.True(t, errors.As(chatErr, &statusErr))
	require.Equal(t, http.StatusGatewayTimeout, statusErr.StatusCode)
	require.True(t, statusErr.TimeoutClass())
}

func TestStatusErrorTimeoutClassification(t *testing.T) {
	require.True(t, (&StatusError{StatusCode: http.StatusBadGateway}).TimeoutClass())
	require.True(t, (&StatusError{StatusCode: http.StatusServiceUnavailable}).TimeoutClass())
	require.False(t, (&StatusError{StatusCode: http.StatusNotFound}).TimeoutClass())
	require.False(t, (&StatusError{StatusCode: http.StatusInternalServerError}).TimeoutClass())
}

func TestLogInteractionSendsSingleEntryRecord(t *testing.T) {
	var receivedRecord InteractionRecord
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		require.Equal(t, "/api/log_interaction", request.URL.Path)
		require.NoError(t, json.NewDecoder(request.Body).Decode(&receivedRecord))
		writer.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	timestamp := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	backendClient := New(server.URL)
	require.NoError(t, backendClient.LogInteraction(context.Background(), testClientEmailValue, testClientNameValue, timestamp, testClientMessageValue, testClientReplyValue))

	require.Equal(t, testClientEmailValue, receivedRecord.UserEmail)
	require.Equal(t, testClientNameValue, receivedRecord.UserName)
	require.Len(t, receivedRecord.Interactions, 1)
	require.Equal(t, timestamp, receivedRecord.Interactions[0].Timestamp)
	require.Equal(t, testClientMessageValue, receivedRecord.Interactions[0].UserMessage)
	require.Equal(t, testClientReplyValue, receivedRecord.Interactions[0].BotResponse)
}

func TestInteractionsByEmailEscapesPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		require.Equal(t, "/api/interactions/"+testClientEmailValue, request.URL.Path)
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"user_email":"` + testClientEmailValue + `","user_name":"` + testClientNameValue + `","interactions":[]}`))
	}))
	defer server.Close()

	backendClient := New(server.URL)
	record, fetchErr := backendClient.InteractionsByEmail(context.Background(), " "+testClientEmailValue+" ")
	require.NoError(t, fetchErr)
	require.Equal(t, testClientEmailValue, record.UserEmail)
}

func TestSearchInteractionsEncodesTerm(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		require.Equal(t, "/api/interactions/search", request.URL.Path)
		require.Equal(t, "ana maria", request.URL.Query().Get("user_name"))
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`[]`))
	}))
	defer server.Close()

	backendClient := New(server.URL)
	records, searchErr := backendClient.SearchInteractions(context.Background(), "ana maria")
	require.NoError(t, searchErr)
	require.Empty(t, records)
}

func TestListInteractionsDecodesRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		require.Equal(t, "/api/interactions", request.URL.Path)
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`[{"user_email":"` + testClientEmailValue + `","user_name":"` + testClientNameValue + `","interactions":[]}]`))
	}))
	defer server.Close()

	backendClient := New(server.URL)
	records, listErr := backendClient.ListInteractions(context.Background())
	require.NoError(t, listErr)
	require.Len(t, records, 1)
	require.Equal(t, testClientNameValue, records[0].UserName)
}
