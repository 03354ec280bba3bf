package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// OriginVisitor marks transcript messages typed by the visitor.
	OriginVisitor = "visitor"
	// OriginAssistant marks transcript messages produced by the assistant.
	OriginAssistant = "assistant"

	greetingMessagePattern = "¡Hola %s! Soy el asistente de %s. ¿En qué puedo ayudarte hoy?"
	apologyMessageText     = "Lo siento, hubo un error al procesar tu mensaje."

	interactionLogTimeout = 10 * time.Second

	logEventChatBackendFailed    = "chat_backend_failed"
	logEventInteractionLogFailed = "interaction_log_failed"
	logFieldVisitorEmail         = "visitor_email"
)

var (
	// ErrEmptyMessage indicates the message text was empty after trimming.
	ErrEmptyMessage = errors.New("chat: empty message")
	// ErrSessionBusy indicates a send is already awaiting a reply.
	ErrSessionBusy = errors.New("chat: session busy")
	// ErrSessionClosed indicates the session was discarded.
	ErrSessionClosed = errors.New("chat: session closed")
)

// Message is one entry of a chat transcript. The transcript is append-only and
// insertion order is display order.
type Message struct {
	Text    string `json:"text"`
	Origin  string `json:"origin"`
	Pending bool   `json:"pending"`
}

// Backend is the remote collaborator a session talks to: one chat call per send
// plus the best-effort logging endpoints.
type Backend interface {
	Chat(ctx context.Context, message string, companyName string, chatName string, userEmail string) (string, error)
	LogInteraction(ctx context.Context, userEmail string, userName string, timestamp time.Time, userMessage string, botResponse string) error
	LogUserActivity(ctx context.Context, email string, name string) error
}

// Config captures the dependencies of a chat session.
type Config struct {
	CompanyName string
	ChatName    string
	Backend     Backend
	Logger      *zap.Logger
	Now         func() time.Time
}

// Session owns one visitor's transcript and serializes sends: at most one chat
// request is in flight at a time, enforced by the awaiting-reply gate.
type Session struct {
	mutex          sync.Mutex
	visitorName    string
	visitorEmail   string
	transcript     []Message
	awaitingReply  bool
	closed         bool
	lastActivityAt time.Time

	companyName string
	chatName    string
	backend     Backend
	logger      *zap.Logger
	now         func() time.Time
}

// NewSession creates a session for a validated visitor, seeded with a greeting
// personalized with the visitor's name.
func NewSession(visitorName string, visitorEmail string, configuration Config) *Session {
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := configuration.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	session := &Session{
		visitorName:    visitorName,
		visitorEmail:   visitorEmail,
		companyName:    configuration.CompanyName,
		chatName:       configuration.ChatName,
		backend:        configuration.Backend,
		logger:         logger,
		now:            now,
		lastActivityAt: now(),
	}
	session.transcript = append(session.transcript, Message{
		Text:   fmt.Sprintf(greetingMessagePattern, visitorName, configuration.CompanyName),
		Origin: OriginAssistant,
	})
	return session
}

// Transcript returns a copy of the ordered transcript.
func (session *Session) Transcript() []Message {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	copied := make([]Message, len(session.transcript))
	copy(copied, session.transcript)
	return copied
}

// AwaitingReply reports whether a send is currently in flight.
func (session *Session) AwaitingReply() bool {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	return session.awaitingReply
}

// LastActivity reports when the session was created or last handled a send.
func (session *Session) LastActivity() time.Time {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	return session.lastActivityAt
}

// Send appends the visitor message optimistically, issues one backend chat call,
// and appends the assistant reply. A backend failure is absorbed into a fixed
// apology message; the failed request is not retried. On success a single-entry
// interaction log is dispatched best-effort and never gates the next send.
func (session *Session) Send(ctx context.Context, text string) (Message, error) {
	trimmedText := strings.TrimSpace(text)
	if trimmedText == "" {
		return Message{}, ErrEmptyMessage
	}

	session.mutex.Lock()
	if session.closed {
		session.mutex.Unlock()
		return Message{}, ErrSessionClosed
	}
	if session.awaitingReply {
		session.mutex.Unlock()
		return Message{}, ErrSessionBusy
	}
	session.awaitingReply = true
	session.lastActivityAt = session.now()
	session.transcript = append(session.transcript, Message{
		Text:    trimmedText,
		Origin:  OriginVisitor,
		Pending: true,
	})
	pendingIndex := len(session.transcript) - 1
	session.mutex.Unlock()

	reply, chatErr := session.backend.Chat(ctx, trimmedText, session.companyName, session.chatName, session.visitorEmail)

	session.mutex.Lock()
	defer session.mutex.Unlock()

	session.awaitingReply = false
	session.lastActivityAt = session.now()
	if session.closed {
		// The session was discarded while the call was in flight; drop the result.
		return Message{}, ErrSessionClosed
	}
	if pendingIndex < len(session.transcript) {
		session.transcript[pendingIndex].Pending = false
	}

	if chatErr != nil {
		session.logger.Warn(logEventChatBackendFailed, zap.Error(chatErr), zap.String(logFieldVisitorEmail, session.visitorEmail))
		apology := Message{Text: apologyMessageText, Origin: OriginAssistant}
		session.transcript = append(session.transcript, apology)
		return apology, nil
	}

	assistantMessage := Message{Text: reply, Origin: OriginAssistant}
	session.transcript = append(session.transcript, assistantMessage)
	session.dispatchInteractionLog(trimmedText, reply)

	return assistantMessage, nil
}

// Close discards the session. A chat call resolving afterwards is ignored.
func (session *Session) Close() {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	session.closed = true
	session.transcript = nil
}

// dispatchInteractionLog fires the interaction log without blocking the send.
// Delivery is at most once with no guarantee; failures are logged and swallowed.
func (session *Session) dispatchInteractionLog(userMessage string, botResponse string) {
	timestamp := session.now()
	go func() {
		logContext, cancel := context.WithTimeout(context.Background(), interactionLogTimeout)
		defer cancel()
		logErr := session.backend.LogInteraction(logContext, session.visitorEmail, session.visitorName, timestamp, userMessage, botResponse)
		if logErr != nil {
			session.logger.Debug(logEventInteractionLogFailed, zap.Error(logErr), zap.String(logFieldVisitorEmail, session.visitorEmail))
		}
	}()
}
