package assistant

import (
	"context"
	"fmt"
	"strings"
)

const staticReplyPattern = "Soy el asistente de %s. En este momento no puedo consultar la base de conocimiento, pero puedes escribirnos a nuestro equipo y te responderemos a la brevedad."

// Provider produces the assistant reply for one visitor message.
type Provider interface {
	Reply(ctx context.Context, message string, companyName string, chatName string) (string, error)
}

// StaticProvider answers every message with a canned reply. It backs the chat
// endpoint when no upstream inference service is configured.
type StaticProvider struct {
	replyText string
}

// NewStaticProvider constructs a StaticProvider. An empty replyText selects the
// default canned reply personalized with the company name at call time.
func NewStaticProvider(replyText string) *StaticProvider {
	return &StaticProvider{replyText: strings.TrimSpace(replyText)}
}

// Reply returns the canned reply.
func (provider *StaticProvider) Reply(_ context.Context, _ string, companyName string, _ string) (string, error) {
	if provider.replyText != "" {
		return provider.replyText, nil
	}
	return fmt.Sprintf(staticReplyPattern, companyName), nil
}
