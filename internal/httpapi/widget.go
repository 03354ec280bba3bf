package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/PromtiorLabs/chat_svc/internal/chat"
	"github.com/PromtiorLabs/chat_svc/internal/storage"
	"github.com/PromtiorLabs/chat_svc/internal/visitor"
)

const (
	errorValueNotValidated   = "not_validated"
	errorValueUnknownSession = "unknown_session"
	errorValueSessionBusy    = "session_busy"
	errorValueSessionFailed  = "session_failed"

	errorMessageInvalidName  = "Por favor ingresa tu nombre."
	errorMessageInvalidEmail = "Por favor ingresa un email válido."

	activityLogTimeout = 10 * time.Second

	// A session idle longer than the validation window can no longer accept
	// sends, so the sweeper reclaims it.
	idleSessionTimeout = visitor.ValidationWindow

	logEventActivityLogFailed  = "activity_log_failed"
	logEventSaveSessionFailed  = "save_session_failed"
	logEventIdleSessionsSwept  = "idle_sessions_swept"
	logFieldEmailName          = "email"
	logFieldSweptSessionsCount = "count"
)

type widgetStateResponse struct {
	Validated bool   `json:"validated"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
}

type createWidgetSessionRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type widgetSessionResponse struct {
	SessionID string         `json:"session_id"`
	Messages  []chat.Message `json:"messages"`
}

type widgetSendRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// WidgetHandlers serves the chat widget session API: identity validation,
// message exchange, and session teardown.
type WidgetHandlers struct {
	visitorStore  visitor.Store
	chatConfig    chat.Config
	logger        *zap.Logger
	now           func() time.Time
	rateLimiter   *ipRateLimiter
	sessionsMutex sync.Mutex
	sessionsByID  map[string]*chat.Session
}

// NewWidgetHandlers constructs WidgetHandlers over the given visitor store and
// chat session configuration.
func NewWidgetHandlers(visitorStore visitor.Store, chatConfig chat.Config, logger *zap.Logger) *WidgetHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := chatConfig.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &WidgetHandlers{
		visitorStore: visitorStore,
		chatConfig:   chatConfig,
		logger:       logger,
		now:          now,
		rateLimiter:  newIPRateLimiter(defaultRateWindow, defaultMaxRequestsPerIP),
		sessionsByID: make(map[string]*chat.Session),
	}
}

// WidgetState reports whether the visitor's persisted validation is still
// current. Validity is always recomputed from the stored timestamp.
func (h *WidgetHandlers) WidgetState(context *gin.Context) {
	state := h.visitorStore.Load(context.Request)
	if !visitor.IsCurrentlyValid(state, h.now()) {
		context.JSON(http.StatusOK, widgetStateResponse{Validated: false})
		return
	}
	context.JSON(http.StatusOK, widgetStateResponse{
		Validated: true,
		Name:      state.Identity.Name,
		Email:     state.Identity.Email,
	})
}

// CreateWidgetSession validates the visitor identity, persists it, opens a chat
// session seeded with the greeting, and dispatches a best-effort activity log.
// Validation failures are inline and retryable without limit.
func (h *WidgetHandlers) CreateWidgetSession(ginContext *gin.Context) {
	if h.rateLimiter.isRateLimited(ginContext.ClientIP()) {
		ginContext.JSON(http.StatusTooManyRequests, gin.H{jsonKeyError: errorValueRateLimited})
		return
	}

	var payload createWidgetSessionRequest
	if bindErr := ginContext.BindJSON(&payload); bindErr != nil {
		ginContext.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	identity, identityErr := visitor.NewIdentity(payload.Name, payload.Email)
	if identityErr != nil {
		errorValue := errorValueInvalidEmail
		if errors.Is(identityErr, visitor.ErrInvalidVisitorName) {
			errorValue = errorValueMissingFields
		}
		ginContext.JSON(http.StatusBadRequest, gin.H{
			jsonKeyError: errorValue,
			"message":    localizedIdentityError(identityErr),
		})
		return
	}

	// Reopening the widget with a still-valid cookie must not extend the
	// validation window; only a fresh validation stamps a new timestamp.
	existingState := h.visitorStore.Load(ginContext.Request)
	if !visitor.IsCurrentlyValid(existingState, h.now()) || existingState.Identity.Email != identity.Email {
		state := visitor.State{Identity: identity, ValidatedAt: h.now()}
		if saveErr := h.visitorStore.Save(ginContext.Writer, ginContext.Request, state); saveErr != nil {
			h.logger.Warn(logEventSaveSessionFailed, zap.Error(saveErr))
			ginContext.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSessionFailed})
			return
		}
	}

	session := chat.NewSession(identity.Name, identity.Email, h.chatConfig)
	sessionID := storage.NewID()

	h.sessionsMutex.Lock()
	h.sessionsByID[sessionID] = session
	h.sessionsMutex.Unlock()

	h.dispatchActivityLog(identity)

	ginContext.JSON(http.StatusOK, widgetSessionResponse{
		SessionID: sessionID,
		Messages:  session.Transcript(),
	})
}

// SendWidgetMessage relays one visitor message through the chat session. The
// visitor's validation is recomputed before every send.
func (h *WidgetHandlers) SendWidgetMessage(ginContext *gin.Context) {
	var payload widgetSendRequest
	if bindErr := ginContext.BindJSON(&payload); bindErr != nil {
		ginContext.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	state := h.visitorStore.Load(ginContext.Request)
	if !visitor.IsCurrentlyValid(state, h.now()) {
		ginContext.JSON(http.StatusUnauthorized, gin.H{jsonKeyError: errorValueNotValidated})
		return
	}

	session, sessionPresent := h.lookupSession(payload.SessionID)
	if !sessionPresent {
		ginContext.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueUnknownSession})
		return
	}

	reply, sendErr := session.Send(ginContext.Request.Context(), payload.Message)
	if sendErr != nil {
		switch {
		case errors.Is(sendErr, chat.ErrEmptyMessage):
			ginContext.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueMissingMessage})
		case errors.Is(sendErr, chat.ErrSessionBusy):
			ginContext.JSON(http.StatusConflict, gin.H{jsonKeyError: errorValueSessionBusy})
		case errors.Is(sendErr, chat.ErrSessionClosed):
			ginContext.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueUnknownSession})
		default:
			h.logger.Warn("widget_send", zap.Error(sendErr))
			ginContext.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSessionFailed})
		}
		return
	}

	ginContext.JSON(http.StatusOK, gin.H{
		"reply":    reply,
		"messages": session.Transcript(),
	})
}

// WidgetTranscript returns the ordered transcript for an open session.
func (h *WidgetHandlers) WidgetTranscript(ginContext *gin.Context) {
	sessionID := strings.TrimSpace(ginContext.Query("session_id"))
	session, sessionPresent := h.lookupSession(sessionID)
	if !sessionPresent {
		ginContext.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueUnknownSession})
		return
	}
	ginContext.JSON(http.StatusOK, gin.H{"messages": session.Transcript()})
}

// CloseWidgetSession discards the chat session. The visitor's validation cookie
// is untouched; closing the window does not invalidate the visitor.
func (h *WidgetHandlers) CloseWidgetSession(ginContext *gin.Context) {
	var payload widgetSendRequest
	if bindErr := ginContext.BindJSON(&payload); bindErr != nil {
		ginContext.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	h.sessionsMutex.Lock()
	session, sessionPresent := h.sessionsByID[payload.SessionID]
	delete(h.sessionsByID, payload.SessionID)
	h.sessionsMutex.Unlock()

	if sessionPresent {
		session.Close()
	}
	ginContext.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// SweepIdleSessions closes and discards sessions with no activity for the idle
// timeout, and reports how many were removed. Visitors who navigate away never
// call close, so the registry is reclaimed periodically instead.
func (h *WidgetHandlers) SweepIdleSessions() int {
	cutoff := h.now().Add(-idleSessionTimeout)

	h.sessionsMutex.Lock()
	var idleSessions []*chat.Session
	for sessionID, session := range h.sessionsByID {
		if session.LastActivity().Before(cutoff) {
			idleSessions = append(idleSessions, session)
			delete(h.sessionsByID, sessionID)
		}
	}
	h.sessionsMutex.Unlock()

	for _, session := range idleSessions {
		session.Close()
	}
	if len(idleSessions) > 0 {
		h.logger.Info(logEventIdleSessionsSwept, zap.Int(logFieldSweptSessionsCount, len(idleSessions)))
	}
	return len(idleSessions)
}

func (h *WidgetHandlers) lookupSession(sessionID string) (*chat.Session, bool) {
	h.sessionsMutex.Lock()
	defer h.sessionsMutex.Unlock()
	session, present := h.sessionsByID[strings.TrimSpace(sessionID)]
	return session, present
}

// dispatchActivityLog fires the user-activity log without blocking validation.
func (h *WidgetHandlers) dispatchActivityLog(identity visitor.Identity) {
	go func() {
		logContext, cancel := context.WithTimeout(context.Background(), activityLogTimeout)
		defer cancel()
		if logErr := h.chatConfig.Backend.LogUserActivity(logContext, identity.Email, identity.Name); logErr != nil {
			h.logger.Debug(logEventActivityLogFailed, zap.Error(logErr), zap.String(logFieldEmailName, identity.Email))
		}
	}()
}

func localizedIdentityError(identityErr error) string {
	if errors.Is(identityErr, visitor.ErrInvalidVisitorName) {
		return errorMessageInvalidName
	}
	return errorMessageInvalidEmail
}
