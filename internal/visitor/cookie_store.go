package visitor

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"go.uber.org/zap"
)

const (
	sessionCookieName         = "promtior_chat_session"
	sessionKeyUserData        = "userData"
	sessionKeyIsUserValidated = "isUserValidated"
	sessionKeyValidationTime  = "validationTime"

	sessionCookieMaxAgeSeconds = 60 * 60 * 24
	logEventLoadSessionCookie  = "load_session_cookie"
)

// ErrMissingSessionSecret indicates the cookie signing secret configuration was omitted.
var ErrMissingSessionSecret = errors.New("visitor: missing session secret")

// Store persists visitor session state in per-browser durable storage.
type Store interface {
	// Load restores the persisted state. Storage failures degrade to the zero
	// State so the visitor is re-prompted instead of seeing an error.
	Load(request *http.Request) State
	Save(writer http.ResponseWriter, request *http.Request, state State) error
	Clear(writer http.ResponseWriter, request *http.Request) error
}

// CookieStore keeps visitor session state in a signed browser cookie.
type CookieStore struct {
	cookieStore *sessions.CookieStore
	logger      *zap.Logger
}

// NewCookieStore constructs a CookieStore signing cookies with the given secret.
func NewCookieStore(secret string, logger *zap.Logger) (*CookieStore, error) {
	if secret == "" {
		return nil, ErrMissingSessionSecret
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cookieStore := sessions.NewCookieStore([]byte(secret))
	cookieStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   sessionCookieMaxAgeSeconds,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	return &CookieStore{cookieStore: cookieStore, logger: logger}, nil
}

// Load restores visitor state from the request cookie. Any decode failure yields
// the zero State: a broken cookie means "no prior session", never an error.
func (store *CookieStore) Load(request *http.Request) State {
	session, getErr := store.cookieStore.Get(request, sessionCookieName)
	if getErr != nil {
		store.logger.Debug(logEventLoadSessionCookie, zap.Error(getErr))
		return State{}
	}

	rawIdentity, identityPresent := session.Values[sessionKeyUserData].(string)
	if !identityPresent {
		return State{}
	}

	var identity Identity
	if decodeErr := json.Unmarshal([]byte(rawIdentity), &identity); decodeErr != nil {
		store.logger.Debug(logEventLoadSessionCookie, zap.Error(decodeErr))
		return State{}
	}

	validationMillis, timePresent := session.Values[sessionKeyValidationTime].(int64)
	if !timePresent {
		return State{}
	}

	return State{
		Identity:    identity,
		ValidatedAt: time.UnixMilli(validationMillis).UTC(),
	}
}

// Save persists identity, validation timestamp, and the advisory flag in one write.
func (store *CookieStore) Save(writer http.ResponseWriter, request *http.Request, state State) error {
	session, getErr := store.cookieStore.Get(request, sessionCookieName)
	if getErr != nil {
		session, _ = store.cookieStore.New(request, sessionCookieName)
	}

	encodedIdentity, encodeErr := json.Marshal(state.Identity)
	if encodeErr != nil {
		return encodeErr
	}

	session.Values[sessionKeyUserData] = string(encodedIdentity)
	session.Values[sessionKeyIsUserValidated] = true
	session.Values[sessionKeyValidationTime] = state.ValidatedAt.UnixMilli()

	return session.Save(request, writer)
}

// Clear removes the persisted state from the browser.
func (store *CookieStore) Clear(writer http.ResponseWriter, request *http.Request) error {
	session, getErr := store.cookieStore.Get(request, sessionCookieName)
	if getErr != nil {
		session, _ = store.cookieStore.New(request, sessionCookieName)
	}

	delete(session.Values, sessionKeyUserData)
	delete(session.Values, sessionKeyIsUserValidated)
	delete(session.Values, sessionKeyValidationTime)
	session.Options.MaxAge = -1

	return session.Save(request, writer)
}
