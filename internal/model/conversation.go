package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	conversationEmailMaxLength = 320
	conversationNameMaxLength  = 200
)

var (
	ErrInvalidConversationEmail = errors.New("invalid_conversation_email")
	ErrInvalidConversationName  = errors.New("invalid_conversation_name")
)

// emailShapePattern accepts the simple local@domain.tld shape visitors are
// asked for; it deliberately stays looser than full RFC 5322 parsing.
var emailShapePattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Conversation groups every interaction a single visitor had with the assistant.
type Conversation struct {
	ID        string    `gorm:"primaryKey;size:36"`
	UserEmail string    `gorm:"not null;size:320;uniqueIndex"`
	UserName  string    `gorm:"not null;size:200"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// ConversationInput holds the raw values used to construct a Conversation.
type ConversationInput struct {
	UserEmail string
	UserName  string
}

// NewConversation constructs a Conversation with validated, normalized fields.
func NewConversation(input ConversationInput) (Conversation, error) {
	email := strings.ToLower(strings.TrimSpace(input.UserEmail))
	if err := ValidateEmailShape(email); err != nil {
		return Conversation{}, err
	}

	name := strings.TrimSpace(input.UserName)
	if name == "" {
		return Conversation{}, ErrInvalidConversationName
	}
	if len(name) > conversationNameMaxLength {
		return Conversation{}, fmt.Errorf("%w: name too long", ErrInvalidConversationName)
	}

	return Conversation{
		ID:        uuid.NewString(),
		UserEmail: email,
		UserName:  name,
	}, nil
}

// ValidateEmailShape checks the simple local@domain.tld email shape.
func ValidateEmailShape(email string) error {
	if email == "" || len(email) > conversationEmailMaxLength {
		return fmt.Errorf("%w: empty or too long", ErrInvalidConversationEmail)
	}
	if !emailShapePattern.MatchString(email) {
		return fmt.Errorf("%w: %s", ErrInvalidConversationEmail, email)
	}
	return nil
}
