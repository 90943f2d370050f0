package websocket

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ai-ragchat-be/internal/pkg/logger"
	"ai-ragchat-be/pkg/apperr"
	"ai-ragchat-be/pkg/llm"
	"ai-ragchat-be/pkg/rag/history"
	"ai-ragchat-be/pkg/rag/prompt"
	"ai-ragchat-be/pkg/rag/ragtest"
	"ai-ragchat-be/pkg/rag/response"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// fakeConn feeds inbound frames from a channel and records what the
// session writes.
type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu        sync.Mutex
	frames    [][]byte
	closeCode int
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case b, ok := <-c.in:
		if !ok {
			return 0, nil, io.EOF
		}
		return websocket.TextMessage, b, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return errors.New("use of closed connection")
	default:
	}
	switch messageType {
	case websocket.CloseMessage:
		if len(data) >= 2 {
			c.closeCode = int(binary.BigEndian.Uint16(data[:2]))
		}
	case websocket.TextMessage:
		c.frames = append(c.frames, append([]byte(nil), data...))
	}
	return nil
}

func (c *fakeConn) SetReadLimit(int64)                {}
func (c *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetPongHandler(func(string) error) {}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) send(t *testing.T, v interface{}) {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	c.in <- b
}

func (c *fakeConn) sendRaw(raw string) { c.in <- []byte(raw) }

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) CloseCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

func (c *fakeConn) Frames() []map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]interface{}, 0, len(c.frames))
	for _, f := range c.frames {
		var m map[string]interface{}
		_ = json.Unmarshal(f, &m)
		out = append(out, m)
	}
	return out
}

type staticAuth map[string]uuid.UUID

func (a staticAuth) Validate(token string) (uuid.UUID, error) {
	if id, ok := a[token]; ok {
		return id, nil
	}
	return uuid.Nil, apperr.Protocol("auth", "invalid token")
}

// fakeChat answers turns through a real Generator so timeouts behave like
// production.
type fakeChat struct {
	generator *response.Generator
	turnErr   error
	denied    string
}

func (f *fakeChat) OpenConversation(_ context.Context, _ uuid.UUID, id string) (string, error) {
	if id != "" && id == f.denied {
		return "", apperr.NotFound("conversations.open", "conversation not found")
	}
	if id == "" {
		return uuid.NewString(), nil
	}
	return id, nil
}

func (f *fakeChat) HandleTurn(ctx context.Context, _ uuid.UUID, convID, content string) (*history.Message, error) {
	if f.turnErr != nil {
		return nil, f.turnErr
	}
	p := prompt.Prompt{Messages: []llm.Message{{Role: "user", Content: content}}}
	text, err := f.generator.Generate(ctx, p, f.generator.Defaults())
	if err != nil {
		return nil, err
	}
	return &history.Message{ConversationID: convID, Role: history.RoleAssistant, Content: text}, nil
}

type harness struct {
	hub  *Hub
	auth staticAuth
	llm  *ragtest.LLM
	chat *fakeChat
}

func newHarness(timeout time.Duration) *harness {
	fake := &ragtest.LLM{Reply: "hello back"}
	return &harness{
		hub:  NewHub(nil, logger.NewNopLogger()),
		auth: staticAuth{"alice-token": uuid.MustParse("00000000-0000-0000-0000-00000000000a")},
		llm:  fake,
		chat: &fakeChat{generator: response.NewGenerator(fake, response.DecodingParams{Temperature: 0.7}, timeout, logger.NewNopLogger())},
	}
}

func (h *harness) start(conn *fakeConn, conversationID string) (*Session, chan struct{}) {
	s := NewSession(conn, h.hub, h.auth, h.chat, conversationID, logger.NewNopLogger())
	finished := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(finished)
	}()
	return s, finished
}

func waitFrames(t *testing.T, conn *fakeConn, n int) []map[string]interface{} {
	t.Helper()
	var frames []map[string]interface{}
	require.Eventually(t, func() bool {
		frames = conn.Frames()
		return len(frames) >= n
	}, 2*time.Second, 5*time.Millisecond)
	return frames
}

func TestSession_FirstFrameMustAuthenticate(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{name: "chat before auth", frame: `{"content":"hi"}`},
		{name: "missing token", frame: `{"type":"authenticate"}`},
		{name: "invalid token", frame: `{"type":"authenticate","token":"nope"}`},
		{name: "not json", frame: `hello`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(time.Second)
			conn := newFakeConn()
			s, finished := h.start(conn, "")
			conn.sendRaw(tt.frame)

			select {
			case <-finished:
			case <-time.After(2 * time.Second):
				t.Fatal("session did not close")
			}
			assert.Equal(t, CloseAuthRequired, conn.CloseCode())
			assert.Equal(t, StateClosed, s.State())
			assert.Zero(t, h.hub.Count())
		})
	}
}

func TestSession_TurnRoundTrip(t *testing.T) {
	h := newHarness(time.Second)
	conn := newFakeConn()
	s, finished := h.start(conn, "conv-1")

	conn.send(t, InboundFrame{Type: FrameAuthenticate, Token: "alice-token"})
	conn.send(t, InboundFrame{Content: "Hello"})

	frames := waitFrames(t, conn, 1)
	assert.Equal(t, "conv-1", frames[0]["conversation_id"])
	msg := frames[0]["message"].(map[string]interface{})
	assert.Equal(t, "assistant", msg["role"])
	assert.Equal(t, "hello back", msg["content"])
	assert.Equal(t, StateActive, s.State())

	got, ok := h.hub.Lookup(h.auth["alice-token"])
	require.True(t, ok)
	assert.Same(t, s, got)

	close(conn.in)
	<-finished
	_, ok = h.hub.Lookup(h.auth["alice-token"])
	assert.False(t, ok)
}

func TestSession_DeniedConversationCloses4004(t *testing.T) {
	h := newHarness(time.Second)
	h.chat.denied = "someone-elses"
	conn := newFakeConn()
	_, finished := h.start(conn, "someone-elses")

	conn.send(t, InboundFrame{Type: FrameAuthenticate, Token: "alice-token"})
	<-finished
	assert.Equal(t, CloseConversationDenied, conn.CloseCode())
	assert.Zero(t, h.hub.Count())
}

// A generation that times out is reported as transient and the channel
// accepts the next message.
func TestSession_GenerationTimeoutKeepsChannel(t *testing.T) {
	h := newHarness(30 * time.Millisecond)
	h.llm.SetBlock(true)
	conn := newFakeConn()
	s, _ := h.start(conn, "conv-1")

	conn.send(t, InboundFrame{Type: FrameAuthenticate, Token: "alice-token"})
	conn.send(t, InboundFrame{Content: "first"})

	frames := waitFrames(t, conn, 1)
	assert.Equal(t, FrameError, frames[0]["type"])
	errPayload := frames[0]["error"].(map[string]interface{})
	assert.Equal(t, "transient", errPayload["kind"])
	assert.Equal(t, true, errPayload["retryable"])
	assert.Equal(t, StateActive, s.State())
	assert.False(t, conn.isClosed())

	h.llm.SetBlock(false)
	conn.send(t, InboundFrame{Content: "second"})
	frames = waitFrames(t, conn, 2)
	msg := frames[1]["message"].(map[string]interface{})
	assert.Equal(t, "hello back", msg["content"])
	assert.Zero(t, conn.CloseCode())
}

func TestSession_TurnErrorPolicy(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		closeCode int
		message   string
	}{
		{name: "transient keeps channel", err: apperr.Transient("history_store.append", errors.New("dial tcp 10.0.0.5:5432: connection refused")), closeCode: 0, message: "the assistant is temporarily unavailable, please retry"},
		{name: "permanent keeps channel", err: apperr.Permanent("llm", errors.New("content policy")), closeCode: 0, message: "the message could not be processed"},
		{name: "unknown notifies then closes", err: errors.New("boom"), closeCode: CloseInternalError, message: "internal error"},
		{name: "conversation gone", err: apperr.NotFound("conversations", "gone"), closeCode: CloseConversationDenied, message: "conversation not accessible"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(time.Second)
			h.chat.turnErr = tt.err
			conn := newFakeConn()
			_, finished := h.start(conn, "conv-1")

			conn.send(t, InboundFrame{Type: FrameAuthenticate, Token: "alice-token"})
			conn.send(t, InboundFrame{Content: "hi"})

			frames := waitFrames(t, conn, 1)
			assert.Equal(t, FrameError, frames[0]["type"])
			errPayload := frames[0]["error"].(map[string]interface{})
			assert.Equal(t, tt.message, errPayload["message"])
			assert.NotContains(t, errPayload["message"], tt.err.Error())

			if tt.closeCode == 0 {
				assert.False(t, conn.isClosed())
				close(conn.in)
				<-finished
				return
			}
			<-finished
			assert.Equal(t, tt.closeCode, conn.CloseCode())
		})
	}
}

// stalledConn accepts the first text frame and then blocks every write
// until it is closed, like a client that stopped reading.
type stalledConn struct {
	*fakeConn
	writes atomic.Int32
}

func (c *stalledConn) WriteMessage(messageType int, data []byte) error {
	if messageType == websocket.TextMessage && c.writes.Add(1) > 1 {
		<-c.closed
		return errors.New("use of closed connection")
	}
	return c.fakeConn.WriteMessage(messageType, data)
}

func TestSession_StalledClientIsDisconnected(t *testing.T) {
	h := newHarness(time.Second)
	conn := &stalledConn{fakeConn: newFakeConn()}
	core, logs := observer.New(zap.WarnLevel)

	s := NewSession(conn, h.hub, h.auth, h.chat, "conv-1", logger.NewFromZap(zap.New(core)))
	s.out = make(chan outbound)
	s.sendTimeout = 50 * time.Millisecond
	finished := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(finished)
	}()

	conn.send(t, InboundFrame{Type: FrameAuthenticate, Token: "alice-token"})
	conn.send(t, InboundFrame{Content: "first"})
	conn.send(t, InboundFrame{Content: "second"})
	conn.send(t, InboundFrame{Content: "third"})

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not give up on a stalled client")
	}
	assert.Equal(t, StateClosed, s.State())
	assert.True(t, conn.isClosed())
	assert.Equal(t, 1, logs.FilterMessage("Client is not reading, closing").Len())
	assert.Len(t, conn.Frames(), 1)
	assert.Zero(t, h.hub.Count())
}

func TestSession_MalformedFrameAfterAuth(t *testing.T) {
	h := newHarness(time.Second)
	conn := newFakeConn()
	_, finished := h.start(conn, "conv-1")

	conn.send(t, InboundFrame{Type: FrameAuthenticate, Token: "alice-token"})
	conn.sendRaw("{not json")
	<-finished
	assert.Equal(t, CloseMalformedFrame, conn.CloseCode())
}

func TestSession_EmptyContentIsPermanent(t *testing.T) {
	h := newHarness(time.Second)
	conn := newFakeConn()
	s, _ := h.start(conn, "conv-1")

	conn.send(t, InboundFrame{Type: FrameAuthenticate, Token: "alice-token"})
	conn.send(t, InboundFrame{Content: "   "})

	frames := waitFrames(t, conn, 1)
	assert.Equal(t, "permanent", frames[0]["error"].(map[string]interface{})["kind"])
	assert.Equal(t, StateActive, s.State())
	assert.Zero(t, h.llm.Calls())
}

// Two channels authenticating as the same user: the later registration
// wins and the earlier channel is closed as superseded.
func TestHub_ConcurrentAuthenticateSameUser(t *testing.T) {
	h := newHarness(time.Second)
	connA, connB := newFakeConn(), newFakeConn()
	sA, doneA := h.start(connA, "conv-a")
	sB, doneB := h.start(connB, "conv-b")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); connA.send(t, InboundFrame{Type: FrameAuthenticate, Token: "alice-token"}) }()
	go func() { defer wg.Done(); connB.send(t, InboundFrame{Type: FrameAuthenticate, Token: "alice-token"}) }()
	wg.Wait()

	var loser, winner *Session
	var loserConn *fakeConn
	var winnerDone chan struct{}
	select {
	case <-doneA:
		loser, loserConn, winner, winnerDone = sA, connA, sB, doneB
	case <-doneB:
		loser, loserConn, winner, winnerDone = sB, connB, sA, doneA
	case <-time.After(2 * time.Second):
		t.Fatal("neither session was superseded")
	}

	assert.Equal(t, CloseSuperseded, loserConn.CloseCode())
	assert.Equal(t, StateClosed, loser.State())

	require.Eventually(t, func() bool { return winner.State() == StateActive }, time.Second, 5*time.Millisecond)
	registered, ok := h.hub.Lookup(h.auth["alice-token"])
	require.True(t, ok)
	assert.Same(t, winner, registered)
	assert.Equal(t, 1, h.hub.Count())

	// the winner still serves turns
	winnerConn := connA
	if winner == sB {
		winnerConn = connB
	}
	winnerConn.send(t, InboundFrame{Content: "still there?"})
	frames := waitFrames(t, winnerConn, 1)
	assert.Contains(t, frames[0], "message")

	close(winnerConn.in)
	<-winnerDone
	assert.Zero(t, h.hub.Count())
}

func TestHub_SendReachesRegisteredSession(t *testing.T) {
	h := newHarness(time.Second)
	conn := newFakeConn()
	s, _ := h.start(conn, "conv-1")

	conn.send(t, InboundFrame{Type: FrameAuthenticate, Token: "alice-token"})
	require.Eventually(t, func() bool { return s.State() == StateActive }, time.Second, 5*time.Millisecond)

	h.hub.Send(h.auth["alice-token"], map[string]interface{}{"document_id": "doc-1"})
	h.hub.Send(uuid.New(), map[string]interface{}{"document_id": "ignored"})

	frames := waitFrames(t, conn, 1)
	assert.Equal(t, FrameNotification, frames[0]["type"])
	assert.Equal(t, "doc-1", frames[0]["data"].(map[string]interface{})["document_id"])
}
