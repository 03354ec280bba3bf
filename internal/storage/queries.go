package storage

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/PromtiorLabs/chat_svc/internal/model"
)

// FindConversationByEmail returns the conversation recorded for the given visitor email.
func FindConversationByEmail(ctx context.Context, database *gorm.DB, email string) (model.Conversation, error) {
	normalizedEmail := strings.ToLower(strings.TrimSpace(email))
	var conversation model.Conversation
	err := database.WithContext(ctx).First(&conversation, "user_email = ?", normalizedEmail).Error
	return conversation, err
}

// FindOrCreateConversation returns the conversation for the visitor email, creating it when absent.
func FindOrCreateConversation(ctx context.Context, database *gorm.DB, email string, name string) (model.Conversation, error) {
	conversation, findErr := FindConversationByEmail(ctx, database, email)
	if findErr == nil {
		return conversation, nil
	}
	if !errors.Is(findErr, gorm.ErrRecordNotFound) {
		return model.Conversation{}, findErr
	}

	created, createErr := model.NewConversation(model.ConversationInput{
		UserEmail: email,
		UserName:  name,
	})
	if createErr != nil {
		return model.Conversation{}, createErr
	}

	if saveErr := database.WithContext(ctx).Create(&created).Error; saveErr != nil {
		return model.Conversation{}, saveErr
	}

	return created, nil
}

// AppendInteractions validates and stores interaction entries for a conversation.
func AppendInteractions(ctx context.Context, database *gorm.DB, conversationID string, entries []model.InteractionInput) error {
	for _, entry := range entries {
		entry.ConversationID = conversationID
		interaction, buildErr := model.NewInteraction(entry)
		if buildErr != nil {
			return buildErr
		}
		if saveErr := database.WithContext(ctx).Create(&interaction).Error; saveErr != nil {
			return saveErr
		}
	}
	return nil
}

// AllConversations returns every recorded conversation.
func AllConversations(ctx context.Context, database *gorm.DB) ([]model.Conversation, error) {
	var conversations []model.Conversation
	err := database.WithContext(ctx).Order("created_at asc").Find(&conversations).Error
	return conversations, err
}

// SearchConversationsByName returns conversations whose visitor name contains the
// term, matched case-insensitively. A blank term matches nothing.
func SearchConversationsByName(ctx context.Context, database *gorm.DB, term string) ([]model.Conversation, error) {
	trimmedTerm := strings.TrimSpace(term)
	if trimmedTerm == "" {
		return nil, nil
	}
	pattern := "%" + strings.ToLower(trimmedTerm) + "%"
	var conversations []model.Conversation
	err := database.WithContext(ctx).
		Where("lower(user_name) LIKE ?", pattern).
		Order("created_at asc").
		Find(&conversations).Error
	return conversations, err
}

// ConversationInteractions returns the interactions for a conversation ordered by
// timestamp, oldest first or newest first.
func ConversationInteractions(ctx context.Context, database *gorm.DB, conversationID string, newestFirst bool) ([]model.Interaction, error) {
	order := "timestamp asc"
	if newestFirst {
		order = "timestamp desc"
	}
	var interactions []model.Interaction
	err := database.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order(order).
		Find(&interactions).Error
	return interactions, err
}
