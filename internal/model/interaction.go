package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	interactionMessageMaxLength  = 4000
	interactionResponseMaxLength = 8000
)

var (
	ErrInvalidInteractionConversationID = errors.New("invalid_interaction_conversation_id")
	ErrInvalidInteractionMessage        = errors.New("invalid_interaction_message")
)

// Interaction captures a single visitor message and the assistant response it received.
type Interaction struct {
	ID             string    `gorm:"primaryKey;size:36"`
	ConversationID string    `gorm:"not null;size:36;index"`
	Timestamp      time.Time `gorm:"not null;index"`
	UserMessage    string    `gorm:"not null;size:4000"`
	BotResponse    string    `gorm:"not null;size:8000"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

// InteractionInput holds the raw values used to construct an Interaction.
type InteractionInput struct {
	ConversationID string
	Timestamp      time.Time
	UserMessage    string
	BotResponse    string
}

// NewInteraction constructs an Interaction with validated, normalized fields.
func NewInteraction(input InteractionInput) (Interaction, error) {
	conversationID := strings.TrimSpace(input.ConversationID)
	if conversationID == "" {
		return Interaction{}, ErrInvalidInteractionConversationID
	}

	userMessage := strings.TrimSpace(input.UserMessage)
	if userMessage == "" {
		return Interaction{}, fmt.Errorf("%w: empty user message", ErrInvalidInteractionMessage)
	}

	timestamp := input.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	return Interaction{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Timestamp:      timestamp,
		UserMessage:    truncateField(userMessage, interactionMessageMaxLength),
		BotResponse:    truncateField(input.BotResponse, interactionResponseMaxLength),
	}, nil
}

func truncateField(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
