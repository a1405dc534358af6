package ws

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/marvindv/group-sketch/internal/config"
	"github.com/marvindv/group-sketch/internal/game/room"
	"github.com/marvindv/group-sketch/internal/protocol"
)

// fakeTransport scripts the inbound side of a connection and records the
// outbound side.
type fakeTransport struct {
	in   chan []byte
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	written [][]byte
	code    protocol.CloseCode
	codeSet bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:   make(chan []byte, 32),
		done: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case data, ok := <-f.in:
		if !ok {
			return nil, errors.New("peer closed")
		}
		return data, nil
	case <-f.done:
		return nil, errors.New("transport closed")
	}
}

func (f *fakeTransport) WriteMessage(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, data)
	return nil
}

func (f *fakeTransport) Ping() error { return nil }

func (f *fakeTransport) CloseWithCode(code protocol.CloseCode, _ string) {
	f.mu.Lock()
	f.code = code
	f.codeSet = true
	f.mu.Unlock()
	f.Close()
}

func (f *fakeTransport) Close() {
	f.once.Do(func() { close(f.done) })
}

// push delivers a raw frame to the client's read loop.
func (f *fakeTransport) push(data []byte) {
	f.in <- data
}

// pushMessage delivers an encoded message to the client's read loop.
func (f *fakeTransport) pushMessage(t *testing.T, msg protocol.Message) {
	t.Helper()
	data, err := protocol.Encode(msg)
	require.NoError(t, err)
	f.push(data)
}

// receivedOfType decodes all recorded outbound frames of the given type.
func (f *fakeTransport) receivedOfType(t *testing.T, typ protocol.Type) []protocol.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var msgs []protocol.Message
	for _, data := range f.written {
		msg, err := protocol.Decode(data)
		require.NoError(t, err)
		if msg.Type() == typ {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

func (f *fakeTransport) closeCode() (protocol.CloseCode, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code, f.codeSet
}

// firstSource always picks index 0, so words come out in list order.
type firstSource struct{}

func (firstSource) Intn(int) int { return 0 }

func testConfig() config.WebsocketConfig {
	return config.WebsocketConfig{
		Host:            "127.0.0.1",
		Port:            0,
		Path:            "/ws",
		WriteTimeout:    time.Second,
		PongTimeout:     time.Minute,
		PingInterval:    30 * time.Second,
		MaxMessageBytes: 65536,
		SendBuffer:      64,
		RateLimit:       1000,
		RateBurst:       1000,
	}
}

func newTestRegistry(t *testing.T) *room.Registry {
	t.Helper()
	reg, err := room.NewRegistry(
		[]string{"default"},
		[]string{"Auto", "Haus", "Baum"},
		firstSource{},
		zaptest.NewLogger(t),
	)
	require.NoError(t, err)
	return reg
}

// startClient wires a fake transport to a running client.
func startClient(t *testing.T, reg *room.Registry, cfg config.WebsocketConfig) (*Client, *fakeTransport) {
	t.Helper()
	transport := newFakeTransport()
	client := NewClient(transport, reg, cfg, zaptest.NewLogger(t))
	go client.Run()
	t.Cleanup(func() { transport.Close() })
	return client, transport
}

// join runs a successful EnterRoom for the given nickname.
func join(t *testing.T, reg *room.Registry, nickname string) (*Client, *fakeTransport) {
	t.Helper()
	client, transport := startClient(t, reg, testConfig())
	transport.pushMessage(t, protocol.EnterRoom{RoomID: "default", Nickname: nickname})

	rm, err := reg.Get("default")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return client.Phase() != PhaseAwaitingRoom && rm.HasMember(nickname)
	}, 2*time.Second, 10*time.Millisecond, "client %s did not join", nickname)
	return client, transport
}

func TestClient_EnterRoom(t *testing.T) {
	reg := newTestRegistry(t)
	client, transport := join(t, reg, "Alice")

	assert.Equal(t, PhaseGuesser, client.Phase())
	assert.Equal(t, "Alice", client.Nickname())

	require.Eventually(t, func() bool {
		return len(transport.receivedOfType(t, protocol.TypeRoomEntered)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	rm, err := reg.Get("default")
	require.NoError(t, err)
	assert.True(t, rm.HasMember("Alice"))
}

func TestClient_EnterRoom_TrimsNickname(t *testing.T) {
	reg := newTestRegistry(t)
	client, _ := join(t, reg, "  Alice  ")
	assert.Equal(t, "Alice", client.Nickname())
}

func TestClient_EnterRoom_BlankPayload(t *testing.T) {
	cases := []struct {
		name string
		msg  protocol.EnterRoom
	}{
		{"blank nickname", protocol.EnterRoom{RoomID: "default", Nickname: "   "}},
		{"blank room id", protocol.EnterRoom{RoomID: "", Nickname: "Alice"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reg := newTestRegistry(t)
			_, transport := startClient(t, reg, testConfig())
			transport.pushMessage(t, tc.msg)

			require.Eventually(t, func() bool {
				code, set := transport.closeCode()
				return set && code == protocol.CloseInvalidPayload
			}, 2*time.Second, 10*time.Millisecond)
		})
	}
}

func TestClient_EnterRoom_UnknownRoom(t *testing.T) {
	reg := newTestRegistry(t)
	_, transport := startClient(t, reg, testConfig())
	transport.pushMessage(t, protocol.EnterRoom{RoomID: "nope", Nickname: "Alice"})

	require.Eventually(t, func() bool {
		code, set := transport.closeCode()
		return set && code == protocol.CloseRoomNotFound
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_EnterRoom_NicknameInUse(t *testing.T) {
	reg := newTestRegistry(t)
	join(t, reg, "Alice")

	_, transport := startClient(t, reg, testConfig())
	// Whitespace variants collide after trimming.
	transport.pushMessage(t, protocol.EnterRoom{RoomID: "default", Nickname: " Alice "})

	require.Eventually(t, func() bool {
		code, set := transport.closeCode()
		return set && code == protocol.CloseNicknameInUse
	}, 2*time.Second, 10*time.Millisecond)

	rm, err := reg.Get("default")
	require.NoError(t, err)
	assert.Equal(t, 1, rm.MemberCount())
}

func TestClient_MalformedWhileAwaitingRoom(t *testing.T) {
	reg := newTestRegistry(t)
	_, transport := startClient(t, reg, testConfig())
	transport.push([]byte("not json"))

	require.Eventually(t, func() bool {
		code, set := transport.closeCode()
		return set && code == protocol.CloseInvalidPayload
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_MalformedAfterJoinTolerated(t *testing.T) {
	reg := newTestRegistry(t)
	clientA, transportA := join(t, reg, "Alice")
	_, transportB := join(t, reg, "Bob")

	// Alice was promoted to sketcher when Bob joined.
	require.Eventually(t, func() bool {
		return clientA.Phase() == PhaseSketcher
	}, 2*time.Second, 10*time.Millisecond)

	transportA.push([]byte(`{"garbage`))
	transportA.push([]byte(`{"type":99}`))

	// The connection survives and keeps working.
	transportA.pushMessage(t, protocol.NextPath{NextPath: protocol.Path{{0, 0}, {1, 1}}})
	require.Eventually(t, func() bool {
		return len(transportB.receivedOfType(t, protocol.TypeNextPath)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, set := transportA.closeCode()
	assert.False(t, set, "a malformed frame after joining must not close the connection")
}

func TestClient_WrongPhaseMessagesDropped(t *testing.T) {
	reg := newTestRegistry(t)
	clientA, transportA := join(t, reg, "Alice")
	clientB, transportB := join(t, reg, "Bob")

	require.Eventually(t, func() bool {
		return clientA.Phase() == PhaseSketcher
	}, 2*time.Second, 10*time.Millisecond)

	// A guesser may not draw, a sketcher may not chat, nobody re-enters.
	transportB.pushMessage(t, protocol.NextPath{NextPath: protocol.Path{{0, 0}}})
	transportA.pushMessage(t, protocol.Text{Text: "hi"})
	transportB.pushMessage(t, protocol.EnterRoom{RoomID: "default", Nickname: "Bob2"})

	// Prove both connections are still alive and in their phases.
	transportA.pushMessage(t, protocol.NextPath{NextPath: protocol.Path{{1, 1}}})
	require.Eventually(t, func() bool {
		return len(transportB.receivedOfType(t, protocol.TypeNextPath)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Empty(t, transportA.receivedOfType(t, protocol.TypeNextPath),
		"the guesser's stroke must not have been relayed")
	assert.Equal(t, PhaseGuesser, clientB.Phase())
	assert.Equal(t, "Bob", clientB.Nickname())
	_, set := transportB.closeCode()
	assert.False(t, set)
}

func TestClient_InvalidPathDropped(t *testing.T) {
	reg := newTestRegistry(t)
	clientA, transportA := join(t, reg, "Alice")
	_, transportB := join(t, reg, "Bob")

	require.Eventually(t, func() bool {
		return clientA.Phase() == PhaseSketcher
	}, 2*time.Second, 10*time.Millisecond)

	transportA.pushMessage(t, protocol.NextPath{NextPath: protocol.Path{}})
	transportA.pushMessage(t, protocol.NextPath{NextPath: protocol.Path{{0, 0, 5}}})
	transportA.pushMessage(t, protocol.NextPath{NextPath: protocol.Path{{0, 0}, {1, 1}}})

	require.Eventually(t, func() bool {
		return len(transportB.receivedOfType(t, protocol.TypeNextPath)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, transportB.receivedOfType(t, protocol.TypeNextPath), 1,
		"only the well-formed stroke is relayed")
}

func TestClient_RoundFlow(t *testing.T) {
	reg := newTestRegistry(t)
	clientA, transportA := join(t, reg, "A")
	clientB, transportB := join(t, reg, "B")

	require.Eventually(t, func() bool {
		return clientA.Phase() == PhaseSketcher
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(transportA.receivedOfType(t, protocol.TypeNextSketcher)) == 1 &&
			len(transportB.receivedOfType(t, protocol.TypeNextSketcher)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Only the sketcher sees the word.
	sketcherMsgs := transportA.receivedOfType(t, protocol.TypeNextSketcher)
	require.Len(t, sketcherMsgs, 1)
	assert.Equal(t, protocol.NextSketcher{Nickname: "A", GuessWord: "Auto"}, sketcherMsgs[0])

	guesserMsgs := transportB.receivedOfType(t, protocol.TypeNextSketcher)
	require.Len(t, guesserMsgs, 1)
	assert.Equal(t, protocol.NextSketcher{Nickname: "A"}, guesserMsgs[0])

	right := "B"
	transportA.pushMessage(t, protocol.CompleteSketching{RightGuessByNickname: &right})

	require.Eventually(t, func() bool {
		return clientB.Phase() == PhaseSketcher && clientA.Phase() == PhaseGuesser
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(transportA.receivedOfType(t, protocol.TypeCompleteSketching)) == 1 &&
			len(transportB.receivedOfType(t, protocol.TypeCompleteSketching)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	for _, tr := range []*fakeTransport{transportA, transportB} {
		msgs := tr.receivedOfType(t, protocol.TypeCompleteSketching)
		require.Len(t, msgs, 1)
		cs := msgs[0].(protocol.CompleteSketching)
		require.NotNil(t, cs.RightGuessByNickname)
		assert.Equal(t, "B", *cs.RightGuessByNickname)
		assert.Equal(t, "Auto", cs.GuessWord)
	}
}

func TestClient_UndoAndClear(t *testing.T) {
	reg := newTestRegistry(t)
	clientA, transportA := join(t, reg, "Alice")
	_, transportB := join(t, reg, "Bob")

	require.Eventually(t, func() bool {
		return clientA.Phase() == PhaseSketcher
	}, 2*time.Second, 10*time.Millisecond)

	transportA.pushMessage(t, protocol.NextPath{NextPath: protocol.Path{{0, 0}}})
	transportA.pushMessage(t, protocol.UndoPath{})
	transportA.pushMessage(t, protocol.ClearSketching{})

	require.Eventually(t, func() bool {
		return len(transportB.receivedOfType(t, protocol.TypeUndoPath)) == 1 &&
			len(transportB.receivedOfType(t, protocol.TypeClearSketching)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Undo and clear are confirmed to the sketcher as well.
	require.Eventually(t, func() bool {
		return len(transportA.receivedOfType(t, protocol.TypeUndoPath)) == 1 &&
			len(transportA.receivedOfType(t, protocol.TypeClearSketching)) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_DisconnectRemovesMembership(t *testing.T) {
	reg := newTestRegistry(t)
	_, transportA := join(t, reg, "Alice")
	_, transportB := join(t, reg, "Bob")

	close(transportA.in)

	require.Eventually(t, func() bool {
		return len(transportB.receivedOfType(t, protocol.TypeUserLeft)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	rm, err := reg.Get("default")
	require.NoError(t, err)
	assert.False(t, rm.HasMember("Alice"))
	assert.Equal(t, 1, rm.MemberCount())
}

func TestClient_RateLimitDropsExcessMessages(t *testing.T) {
	reg := newTestRegistry(t)

	cfg := testConfig()
	// Budget for the join and exactly one stroke; everything after is dropped.
	cfg.RateLimit = 0.0001
	cfg.RateBurst = 2

	transportA := newFakeTransport()
	clientA := NewClient(transportA, reg, cfg, zaptest.NewLogger(t))
	go clientA.Run()
	t.Cleanup(func() { transportA.Close() })

	rm, err := reg.Get("default")
	require.NoError(t, err)

	transportA.pushMessage(t, protocol.EnterRoom{RoomID: "default", Nickname: "Alice"})
	require.Eventually(t, func() bool {
		return rm.HasMember("Alice")
	}, 2*time.Second, 10*time.Millisecond)

	_, transportB := join(t, reg, "Bob")
	require.Eventually(t, func() bool {
		return clientA.Phase() == PhaseSketcher
	}, 2*time.Second, 10*time.Millisecond)

	transportA.pushMessage(t, protocol.NextPath{NextPath: protocol.Path{{0, 0}}})
	transportA.pushMessage(t, protocol.NextPath{NextPath: protocol.Path{{1, 1}}})
	transportA.pushMessage(t, protocol.NextPath{NextPath: protocol.Path{{2, 2}}})

	require.Eventually(t, func() bool {
		return len(transportB.receivedOfType(t, protocol.TypeNextPath)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The over-budget strokes were dropped, not deferred.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, transportB.receivedOfType(t, protocol.TypeNextPath), 1)

	_, set := transportA.closeCode()
	assert.False(t, set, "rate limiting drops messages, it does not close the connection")
}

func TestClient_TextIsAcceptedWithoutEffect(t *testing.T) {
	reg := newTestRegistry(t)
	clientA, transportA := join(t, reg, "Alice")
	clientB, transportB := join(t, reg, "Bob")

	require.Eventually(t, func() bool {
		return clientA.Phase() == PhaseSketcher
	}, 2*time.Second, 10*time.Millisecond)

	transportB.pushMessage(t, protocol.Text{Text: "is it a car?"})

	// Prove processing advanced past the Text message.
	transportA.pushMessage(t, protocol.NextPath{NextPath: protocol.Path{{0, 0}}})
	require.Eventually(t, func() bool {
		return len(transportB.receivedOfType(t, protocol.TypeNextPath)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Empty(t, transportA.receivedOfType(t, protocol.TypeText))
	assert.Equal(t, PhaseGuesser, clientB.Phase())
	_, set := transportB.closeCode()
	assert.False(t, set)
}
