package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/PromtiorLabs/chat_svc/internal/model"
	"github.com/PromtiorLabs/chat_svc/internal/storage"
	"github.com/PromtiorLabs/chat_svc/internal/testutil"
)

const (
	testVisitorEmailValue      = "ana@example.com"
	testVisitorNameValue       = "Ana"
	testUserMessageValue       = "Hello"
	testBotResponseValue       = "Hi there"
	testUnsupportedDriverValue = "unsupported-driver"
)

func TestOpenDatabaseWithSQLiteConfiguration(t *testing.T) {
	sqliteDatabase := testutil.NewSQLiteTestDatabase(t)

	database, openErr := storage.OpenDatabase(sqliteDatabase.Configuration())
	require.NoError(t, openErr)
	database = testutil.ConfigureDatabaseLogger(t, database)
	require.NotNil(t, database)

	require.NoError(t, storage.AutoMigrate(database))

	conversation, createErr := model.NewConversation(model.ConversationInput{
		UserEmail: testVisitorEmailValue,
		UserName:  testVisitorNameValue,
	})
	require.NoError(t, createErr)
	require.NoError(t, database.Create(&conversation).Error)

	var fetchedConversation model.Conversation
	require.NoError(t, database.First(&fetchedConversation, "id = ?", conversation.ID).Error)
	require.Equal(t, testVisitorEmailValue, fetchedConversation.UserEmail)
}

func TestOpenDatabaseRejectsMissingDriver(t *testing.T) {
	_, openErr := storage.OpenDatabase(storage.Config{DataSourceName: "file:test.db"})
	require.ErrorIs(t, openErr, storage.ErrMissingDatabaseDriverName)
}

func TestOpenDatabaseRejectsUnsupportedDriver(t *testing.T) {
	_, openErr := storage.OpenDatabase(storage.Config{
		DriverName:     testUnsupportedDriverValue,
		DataSourceName: "file:test.db",
	})
	require.ErrorIs(t, openErr, storage.ErrUnsupportedDatabaseDriver)
}

func TestOpenDatabaseRejectsMissingDataSourceName(t *testing.T) {
	_, openErr := storage.OpenDatabase(storage.Config{DriverName: storage.DriverNameSQLite})
	require.ErrorIs(t, openErr, storage.ErrMissingDataSourceName)
}

func TestFindOrCreateConversationCreatesOnce(t *testing.T) {
	database := testutil.NewSQLiteTestDatabase(t).OpenMigrated(t)
	requestContext := context.Background()

	created, createErr := storage.FindOrCreateConversation(requestContext, database, "Ana@Example.com", testVisitorNameValue)
	require.NoError(t, createErr)
	require.Equal(t, testVisitorEmailValue, created.UserEmail)

	found, findErr := storage.FindOrCreateConversation(requestContext, database, testVisitorEmailValue, testVisitorNameValue)
	require.NoError(t, findErr)
	require.Equal(t, created.ID, found.ID)

	var conversationCount int64
	require.NoError(t, database.Model(&model.Conversation{}).Count(&conversationCount).Error)
	require.EqualValues(t, 1, conversationCount)
}

func TestFindConversationByEmailReturnsNotFound(t *testing.T) {
	database := testutil.NewSQLiteTestDatabase(t).OpenMigrated(t)

	_, findErr := storage.FindConversationByEmail(context.Background(), database, "missing@example.com")
	require.True(t, errors.Is(findErr, gorm.ErrRecordNotFound))
}

func TestAppendInteractionsStoresEntriesInOrder(t *testing.T) {
	database := testutil.NewSQLiteTestDatabase(t).OpenMigrated(t)
	requestContext := context.Background()

	conversation, createErr := storage.FindOrCreateConversation(requestContext, database, testVisitorEmailValue, testVisitorNameValue)
	require.NoError(t, createErr)

	firstTimestamp := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, storage.AppendInteractions(requestContext, database, conversation.ID, []model.InteractionInput{
		{Timestamp: firstTimestamp, UserMessage: testUserMessageValue, BotResponse: testBotResponseValue},
		{Timestamp: firstTimestamp.Add(time.Minute), UserMessage: "Second", BotResponse: "Reply"},
	}))

	oldestFirst, listErr := storage.ConversationInteractions(requestContext, database, conversation.ID, false)
	require.NoError(t, listErr)
	require.Len(t, oldestFirst, 2)
	require.Equal(t, testUserMessageValue, oldestFirst[0].UserMessage)

	newestFirst, reverseErr := storage.ConversationInteractions(requestContext, database, conversation.ID, true)
	require.NoError(t, reverseErr)
	require.Equal(t, "Second", newestFirst[0].UserMessage)
}

func TestSearchConversationsByNameMatchesCaseInsensitively(t *testing.T) {
	database := testutil.NewSQLiteTestDatabase(t).OpenMigrated(t)
	requestContext := context.Background()

	_, firstErr := storage.FindOrCreateConversation(requestContext, database, testVisitorEmailValue, testVisitorNameValue)
	require.NoError(t, firstErr)
	_, secondErr := storage.FindOrCreateConversation(requestContext, database, "bruno@example.com", "Bruno")
	require.NoError(t, secondErr)

	matches, searchErr := storage.SearchConversationsByName(requestContext, database, "aN")
	require.NoError(t, searchErr)
	require.Len(t, matches, 1)
	require.Equal(t, testVisitorNameValue, matches[0].UserName)

	empty, blankErr := storage.SearchConversationsByName(requestContext, database, "   ")
	require.NoError(t, blankErr)
	require.Empty(t, empty)
}
