package httpapi

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/PromtiorLabs/chat_svc/internal/assistant"
	"github.com/PromtiorLabs/chat_svc/internal/model"
	"github.com/PromtiorLabs/chat_svc/internal/storage"
)

// LocalBackend serves chat-session backend calls in process, against the local
// database and assistant provider, so a single-binary deployment needs no
// second backend service.
type LocalBackend struct {
	database *gorm.DB
	provider assistant.Provider
}

// NewLocalBackend constructs a LocalBackend over the given database and provider.
func NewLocalBackend(database *gorm.DB, provider assistant.Provider) *LocalBackend {
	return &LocalBackend{database: database, provider: provider}
}

// Chat produces an assistant reply for one visitor message.
func (backend *LocalBackend) Chat(ctx context.Context, message string, companyName string, chatName string, _ string) (string, error) {
	return backend.provider.Reply(ctx, message, companyName, chatName)
}

// LogInteraction appends one message/response pair to the visitor's conversation.
func (backend *LocalBackend) LogInteraction(ctx context.Context, userEmail string, userName string, timestamp time.Time, userMessage string, botResponse string) error {
	conversation, findErr := storage.FindOrCreateConversation(ctx, backend.database, userEmail, userName)
	if findErr != nil {
		return findErr
	}
	return storage.AppendInteractions(ctx, backend.database, conversation.ID, []model.InteractionInput{
		{Timestamp: timestamp, UserMessage: userMessage, BotResponse: botResponse},
	})
}

// LogUserActivity records that a visitor validated their identity.
func (backend *LocalBackend) LogUserActivity(ctx context.Context, email string, name string) error {
	_, findErr := storage.FindOrCreateConversation(ctx, backend.database, email, name)
	return findErr
}
