package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testVisitorNameValue  = "Ana"
	testVisitorEmailValue = "ana@x.com"
	testCompanyNameValue  = "Promtior"
	testChatNameValue     = "Promtior AI Assistant"
	testReplyTextValue    = "Hi there"
	testSendTextValue     = "Hello"
)

type loggedInteraction struct {
	userEmail   string
	userName    string
	userMessage string
	botResponse string
	timestamp   time.Time
}

type stubBackend struct {
	mutex        sync.Mutex
	replyText    string
	chatErr      error
	chatCalls    int
	chatStarted  chan struct{}
	chatRelease  chan struct{}
	interactions chan loggedInteraction
	logErr       error
}

func newStubBackend() *stubBackend {
	return &stubBackend{
		replyText:    testReplyTextValue,
		interactions: make(chan loggedInteraction, 4),
	}
}

func (backend *stubBackend) Chat(_ context.Context, _ string, _ string, _ string, _ string) (string, error) {
	backend.mutex.Lock()
	backend.chatCalls++
	started := backend.chatStarted
	release := backend.chatRelease
	backend.mutex.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}

	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	return backend.replyText, backend.chatErr
}

func (backend *stubBackend) LogInteraction(_ context.Context, userEmail string, userName string, timestamp time.Time, userMessage string, botResponse string) error {
	backend.interactions <- loggedInteraction{
		userEmail:   userEmail,
		userName:    userName,
		userMessage: userMessage,
		botResponse: botResponse,
		timestamp:   timestamp,
	}
	return backend.logErr
}

func (backend *stubBackend) LogUserActivity(_ context.Context, _ string, _ string) error {
	return nil
}

func (backend *stubBackend) recordedChatCalls() int {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	return backend.chatCalls
}

func newTestSession(backend Backend) *Session {
	return NewSession(testVisitorNameValue, testVisitorEmailValue, Config{
		CompanyName: testCompanyNameValue,
		ChatName:    testChatNameValue,
		Backend:     backend,
		Logger:      zap.NewNop(),
	})
}

func TestNewSessionSeedsPersonalizedGreeting(t *testing.T) {
	session := newTestSession(newStubBackend())

	transcript := session.Transcript()
	require.Len(t, transcript, 1)
	require.Equal(t, OriginAssistant, transcript[0].Origin)
	require.Contains(t, transcript[0].Text, testVisitorNameValue)
	require.Contains(t, transcript[0].Text, testCompanyNameValue)
}

func TestSendAppendsVisitorAndAssistantMessages(t *testing.T) {
	backend := newStubBackend()
	session := newTestSession(backend)

	reply, sendErr := session.Send(context.Background(), testSendTextValue)
	require.NoError(t, sendErr)
	require.Equal(t, testReplyTextValue, reply.Text)
	require.False(t, session.AwaitingReply())

	transcript := session.Transcript()
	require.Len(t, transcript, 3)
	require.Equal(t, OriginVisitor, transcript[1].Origin)
	require.Equal(t, testSendTextValue, transcript[1].Text)
	require.False(t, transcript[1].Pending)
	require.Equal(t, OriginAssistant, transcript[2].Origin)
	require.Equal(t, testReplyTextValue, transcript[2].Text)
}

func TestSendDispatchesInteractionLogOnSuccess(t *testing.T) {
	backend := newStubBackend()
	session := newTestSession(backend)

	_, sendErr := session.Send(context.Background(), testSendTextValue)
	require.NoError(t, sendErr)

	select {
	case logged := <-backend.interactions:
		require.Equal(t, testVisitorEmailValue, logged.userEmail)
		require.Equal(t, testVisitorNameValue, logged.userName)
		require.Equal(t, testSendTextValue, logged.userMessage)
		require.Equal(t, testReplyTextValue, logged.botResponse)
		require.False(t, logged.timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("interaction log was never dispatched")
	}
}

func TestSendRejectsEmptyMessageWithoutBackendCall(t *testing.T) {
	backend := newStubBackend()
	session := newTestSession(backend)

	_, sendErr := session.Send(context.Background(), "   ")
	require.ErrorIs(t, sendErr, ErrEmptyMessage)
	require.Len(t, session.Transcript(), 1)
	require.Zero(t, backend.recordedChatCalls())
}

func TestSendWhileAwaitingReplyIsRejected(t *testing.T) {
	backend := newStubBackend()
	backend.chatStarted = make(chan struct{}, 1)
	backend.chatRelease = make(chan struct{})
	session := newTestSession(backend)

	firstSendDone := make(chan error, 1)
	go func() {
		_, err := session.Send(context.Background(), testSendTextValue)
		firstSendDone <- err
	}()

	<-backend.chatStarted
	require.True(t, session.AwaitingReply())

	transcriptBefore := len(session.Transcript())
	_, secondErr := session.Send(context.Background(), "Another")
	require.ErrorIs(t, secondErr, ErrSessionBusy)
	require.Len(t, session.Transcript(), transcriptBefore)

	close(backend.chatRelease)
	require.NoError(t, <-firstSendDone)
	require.Equal(t, 1, backend.recordedChatCalls())
}

func TestSendFailureAppendsApologyAndReturnsToIdle(t *testing.T) {
	backend := newStubBackend()
	backend.chatErr = errors.New("backend unavailable")
	session := newTestSession(backend)

	reply, sendErr := session.Send(context.Background(), testSendTextValue)
	require.NoError(t, sendErr)
	require.Equal(t, apologyMessageText, reply.Text)
	require.False(t, session.AwaitingReply())

	transcript := session.Transcript()
	require.Equal(t, apologyMessageText, transcript[len(transcript)-1].Text)
	require.Empty(t, backend.interactions)

	// The session stays usable: a manual resend succeeds once the backend recovers.
	backend.mutex.Lock()
	backend.chatErr = nil
	backend.mutex.Unlock()
	recovered, retryErr := session.Send(context.Background(), testSendTextValue)
	require.NoError(t, retryErr)
	require.Equal(t, testReplyTextValue, recovered.Text)
}

func TestCloseDuringInFlightSendDropsResult(t *testing.T) {
	backend := newStubBackend()
	backend.chatStarted = make(chan struct{}, 1)
	backend.chatRelease = make(chan struct{})
	session := newTestSession(backend)

	sendDone := make(chan error, 1)
	go func() {
		_, err := session.Send(context.Background(), testSendTextValue)
		sendDone <- err
	}()

	<-backend.chatStarted
	session.Close()
	close(backend.chatRelease)

	require.ErrorIs(t, <-sendDone, ErrSessionClosed)
	require.Empty(t, session.Transcript())

	_, afterCloseErr := session.Send(context.Background(), testSendTextValue)
	require.ErrorIs(t, afterCloseErr, ErrSessionClosed)
}

func TestLastActivityAdvancesOnSend(t *testing.T) {
	currentTime := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	session := NewSession(testVisitorNameValue, testVisitorEmailValue, Config{
		CompanyName: testCompanyNameValue,
		ChatName:    testChatNameValue,
		Backend:     newStubBackend(),
		Logger:      zap.NewNop(),
		Now:         func() time.Time { return currentTime },
	})
	require.Equal(t, currentTime, session.LastActivity())

	currentTime = currentTime.Add(10 * time.Minute)
	_, sendErr := session.Send(context.Background(), testSendTextValue)
	require.NoError(t, sendErr)
	require.Equal(t, currentTime, session.LastActivity())
}
