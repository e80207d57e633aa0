package rooms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hilthontt/roomdrop/internal/application/relay"
	"github.com/hilthontt/roomdrop/internal/application/session"
	"github.com/hilthontt/roomdrop/internal/domain"
	"github.com/hilthontt/roomdrop/internal/infrastructure/keygen"
	"github.com/hilthontt/roomdrop/internal/infrastructure/logging"
	"github.com/hilthontt/roomdrop/internal/infrastructure/profile"
	"github.com/hilthontt/roomdrop/internal/infrastructure/repository"
	"github.com/hilthontt/roomdrop/internal/infrastructure/ws"
	"github.com/vmihailenco/msgpack/v5"
)

type testServer struct {
	server   *httptest.Server
	registry *repository.RoomRegistry
	hub      *ws.Hub
}

func newTestServer(t *testing.T, keyOpts ...keygen.Option) *testServer {
	t.Helper()
	return newTestServerWithLogger(t, logging.NewNop(), keyOpts...)
}

func newTestServerWithLogger(t *testing.T, logger logging.Logger, keyOpts ...keygen.Option) *testServer {
	t.Helper()

	registry := repository.NewRoomRegistry(keygen.New(keyOpts...), repository.Options{})
	hub := ws.NewHub(ws.HubOptions{Logger: logger})

	coordinator := session.NewCoordinator(session.Options{
		Registry:             registry,
		Emitter:              hub,
		Profiles:             profile.NewGenerator(),
		Logger:               logger,
		KeyspaceRetries:      1,
		RetryInitialInterval: time.Millisecond,
	})
	relaySvc := relay.NewService(relay.Options{
		Emitter: hub,
		Members: registry,
		Logger:  logger,
	})

	h := NewHandler(hub, coordinator, relaySvc, logger, ws.ClientOptions{SendBuffer: 16, MaxPayload: 1 << 20})
	server := httptest.NewServer(http.HandlerFunc(h.ConnectHandler))

	t.Cleanup(func() {
		hub.CloseAll()
		server.Close()
	})

	return &testServer{server: server, registry: registry, hub: hub}
}

func (s *testServer) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/?" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial(%s) error = %v", query, err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })

	return conn
}

type inbound struct {
	Event string          `json:"event"`
	Ack   uint64          `json:"ack"`
	Data  json.RawMessage `json:"data"`
}

func read(t *testing.T, conn *websocket.Conn) inbound {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var in inbound
	if err := conn.ReadJSON(&in); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return in
}

func expect(t *testing.T, conn *websocket.Conn, event string, v any) inbound {
	t.Helper()

	in := read(t, conn)
	if in.Event != event {
		t.Fatalf("event = %q, want %q (data %s)", in.Event, event, in.Data)
	}
	if v != nil {
		if err := json.Unmarshal(in.Data, v); err != nil {
			t.Fatalf("decode %s payload: %v", event, err)
		}
	}
	return in
}

func send(t *testing.T, conn *websocket.Conn, event string, ack uint64, data any) {
	t.Helper()

	frame := map[string]any{"event": event, "ack": ack, "data": data}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("WriteJSON(%s) error = %v", event, err)
	}
}

func closeGracefully(conn *websocket.Conn) {
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
}

// join dials and consumes the two frames every new member receives.
func join(t *testing.T, s *testServer, query string) (*websocket.Conn, ws.UserPayload, []domain.Member) {
	t.Helper()

	conn := s.dial(t, query)
	var user ws.UserPayload
	expect(t, conn, ws.UserUpdateEvent, &user)
	var users ws.UsersPayload
	expect(t, conn, ws.UsersUpdateEvent, &users)

	return conn, user, users.Users
}

func ids(members []domain.Member) string {
	return strings.Join(domain.MemberIDs(members), ",")
}

func TestConnectHandler_PairsMembersInOneRoom(t *testing.T) {
	s := newTestServer(t)

	a, aUser, users := join(t, s, "")
	if aUser.Key == "" {
		t.Fatal("fresh connection got an empty room key")
	}
	if ids(users) != aUser.User.ID {
		t.Fatalf("first roster = %s, want only %s", ids(users), aUser.User.ID)
	}
	if aUser.User.Name == "" || aUser.User.Icon == "" {
		t.Errorf("member profile not filled: %+v", aUser.User)
	}

	_, bUser, users := join(t, s, "key="+string(aUser.Key))
	if bUser.Key != aUser.Key {
		t.Fatalf("joined key = %s, want %s", bUser.Key, aUser.Key)
	}
	want := aUser.User.ID + "," + bUser.User.ID
	if ids(users) != want {
		t.Fatalf("joiner roster = %s, want %s", ids(users), want)
	}

	var roster ws.UsersPayload
	expect(t, a, ws.UsersUpdateEvent, &roster)
	if ids(roster.Users) != want {
		t.Fatalf("existing member roster = %s, want %s", ids(roster.Users), want)
	}

	if stats := s.registry.Stats(); stats.Rooms != 1 || stats.Members != 2 {
		t.Errorf("Stats() = %+v, want 1 room with 2 members", stats)
	}
}

func TestConnectHandler_ShareTextAcksSender(t *testing.T) {
	s := newTestServer(t)

	a, aUser, _ := join(t, s, "")
	b, bUser, _ := join(t, s, "key="+string(aUser.Key))
	expect(t, a, ws.UsersUpdateEvent, nil)

	send(t, a, ws.ShareTextEvent, 7, map[string]any{"to": []string{bUser.User.ID}, "text": "hello"})

	var text ws.TextPayload
	expect(t, b, ws.ShareTextEvent, &text)
	if text.Text != "hello" {
		t.Errorf("text = %q, want hello", text.Text)
	}

	var outcome domain.Outcome
	ack := expect(t, a, ws.AckEvent, &outcome)
	if ack.Ack != 7 || !outcome.OK() {
		t.Errorf("ack = %d %+v, want 7 ok", ack.Ack, outcome)
	}
}

func TestConnectHandler_ShareFilesPreservesBytes(t *testing.T) {
	s := newTestServer(t)

	a, aUser, _ := join(t, s, "")
	b, _, _ := join(t, s, "key="+string(aUser.Key))
	expect(t, a, ws.UsersUpdateEvent, nil)

	payload := []byte{0x00, 0xff, 0x10, 'x'}
	send(t, b, ws.ShareFilesEvent, 1, map[string]any{
		"to":    []string{aUser.User.ID},
		"files": []domain.File{{Name: "a.bin", Type: "application/octet-stream", Data: payload}},
	})

	var files ws.FilesPayload
	expect(t, a, ws.ShareFilesEvent, &files)
	if len(files.Files) != 1 || files.Files[0].Name != "a.bin" || !bytes.Equal(files.Files[0].Data, payload) {
		t.Errorf("files = %+v, want a.bin with original bytes", files.Files)
	}
	expect(t, b, ws.AckEvent, nil)
}

func TestConnectHandler_NoRecipientsNegativeAck(t *testing.T) {
	s := newTestServer(t)

	a, _, _ := join(t, s, "")
	send(t, a, ws.ShareTextEvent, 3, map[string]any{"to": []string{}, "text": "nobody"})

	var outcome domain.Outcome
	ack := expect(t, a, ws.AckEvent, &outcome)
	if ack.Ack != 3 || outcome.Status != domain.StatusError || outcome.Error != "no_recipients" {
		t.Errorf("ack = %d %+v, want 3 error no_recipients", ack.Ack, outcome)
	}
}

func TestConnectHandler_UnknownEventAndBadPayload(t *testing.T) {
	s := newTestServer(t)

	a, _, _ := join(t, s, "")

	send(t, a, "share:video", 1, map[string]any{})
	var outcome domain.Outcome
	expect(t, a, ws.AckEvent, &outcome)
	if outcome.Error != "unknown_event" {
		t.Errorf("unknown event outcome = %+v", outcome)
	}

	send(t, a, ws.ShareTextEvent, 2, "not an object")
	expect(t, a, ws.AckEvent, &outcome)
	if outcome.Error != "bad_request" {
		t.Errorf("bad payload outcome = %+v", outcome)
	}

	if err := a.WriteMessage(websocket.TextMessage, []byte("{")); err != nil {
		t.Fatal(err)
	}
	var problem ws.ErrorPayload
	expect(t, a, ws.ErrorEvent, &problem)
	if problem.Code != "bad_frame" {
		t.Errorf("error code = %q, want bad_frame", problem.Code)
	}
}

func TestConnectHandler_NoAckRequested(t *testing.T) {
	s := newTestServer(t)

	a, aUser, _ := join(t, s, "")
	b, bUser, _ := join(t, s, "key="+string(aUser.Key))
	expect(t, a, ws.UsersUpdateEvent, nil)

	send(t, a, ws.ShareTextEvent, 0, map[string]any{"to": []string{bUser.User.ID}, "text": "first"})
	send(t, a, ws.ShareTextEvent, 9, map[string]any{"to": []string{bUser.User.ID}, "text": "second"})

	expect(t, b, ws.ShareTextEvent, nil)
	expect(t, b, ws.ShareTextEvent, nil)

	// Only the second share asked for an acknowledgement.
	ack := expect(t, a, ws.AckEvent, nil)
	if ack.Ack != 9 {
		t.Errorf("ack id = %d, want 9", ack.Ack)
	}
}

func TestConnectHandler_DisconnectUpdatesSurvivors(t *testing.T) {
	s := newTestServer(t)

	a, aUser, _ := join(t, s, "")
	b, _, _ := join(t, s, "key="+string(aUser.Key))
	expect(t, a, ws.UsersUpdateEvent, nil)

	closeGracefully(b)

	var roster ws.UsersPayload
	expect(t, a, ws.UsersUpdateEvent, &roster)
	if ids(roster.Users) != aUser.User.ID {
		t.Fatalf("roster after leave = %s, want %s", ids(roster.Users), aUser.User.ID)
	}

	closeGracefully(a)

	deadline := time.Now().Add(2 * time.Second)
	for s.registry.Stats().Rooms != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("room still registered after last member left: %+v", s.registry.Stats())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := s.registry.MembersOf(context.Background(), aUser.Key); err == nil {
		t.Error("MembersOf() on a deleted room returned no error")
	}
}

func TestConnectHandler_UnknownKeyGetsFreshRoom(t *testing.T) {
	s := newTestServer(t)

	_, user, users := join(t, s, "key=zzzz")
	if user.Key == "zzzz" {
		t.Error("unregistered key was adopted")
	}
	if len(users) != 1 {
		t.Errorf("roster = %d members, want 1", len(users))
	}
}

func TestConnectHandler_KeyspaceExhausted(t *testing.T) {
	s := newTestServer(t, keygen.WithAlphabet("ab"), keygen.WithLength(1), keygen.WithMaxAttempts(50))

	join(t, s, "")
	join(t, s, "")

	conn := s.dial(t, "")
	var problem ws.ErrorPayload
	expect(t, conn, ws.ErrorEvent, &problem)
	if problem.Code != "keyspace_exhausted" {
		t.Errorf("error code = %q, want keyspace_exhausted", problem.Code)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("connection stayed open after the key allocation failed")
	}
}

func TestConnectHandler_RejectsUnknownCodec(t *testing.T) {
	s := newTestServer(t)

	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/?codec=xml"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Dial() with an unknown codec succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("response = %v, want 400", resp)
	}
	resp.Body.Close()
}

type binaryInbound struct {
	Event string             `msgpack:"event"`
	Ack   uint64             `msgpack:"ack"`
	Data  msgpack.RawMessage `msgpack:"data"`
}

func readBinary(t *testing.T, conn *websocket.Conn, event string, v any) binaryInbound {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	messageType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if messageType != websocket.BinaryMessage {
		t.Fatalf("message type = %d, want binary", messageType)
	}

	var in binaryInbound
	if err := msgpack.Unmarshal(data, &in); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if in.Event != event {
		t.Fatalf("event = %q, want %q", in.Event, event)
	}
	if v != nil {
		if err := msgpack.Unmarshal(in.Data, v); err != nil {
			t.Fatalf("decode %s payload: %v", event, err)
		}
	}
	return in
}

func TestConnectHandler_MsgpackClient(t *testing.T) {
	s := newTestServer(t)

	a, aUser, _ := join(t, s, "")

	m := s.dial(t, "codec=msgpack&key="+string(aUser.Key))
	var user ws.UserPayload
	readBinary(t, m, ws.UserUpdateEvent, &user)
	if user.Key != aUser.Key {
		t.Fatalf("msgpack client key = %s, want %s", user.Key, aUser.Key)
	}
	readBinary(t, m, ws.UsersUpdateEvent, nil)
	expect(t, a, ws.UsersUpdateEvent, nil)

	payload := []byte{1, 2, 3, 254}
	frame, err := msgpack.Marshal(map[string]any{
		"event": ws.ShareFilesEvent,
		"ack":   uint64(5),
		"data": map[string]any{
			"to":    []string{aUser.User.ID},
			"files": []domain.File{{Name: "raw", Type: "application/octet-stream", Data: payload}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatal(err)
	}

	// The JSON peer receives the same bytes, base64 encoded on its wire.
	var files ws.FilesPayload
	expect(t, a, ws.ShareFilesEvent, &files)
	if len(files.Files) != 1 || !bytes.Equal(files.Files[0].Data, payload) {
		t.Errorf("files = %+v, want original bytes", files.Files)
	}

	var outcome domain.Outcome
	ack := readBinary(t, m, ws.AckEvent, &outcome)
	if ack.Ack != 5 || !outcome.OK() {
		t.Errorf("ack = %d %+v, want 5 ok", ack.Ack, outcome)
	}
}

func TestConnectHandler_RejectsOversizedRecipient(t *testing.T) {
	s := newTestServer(t)

	a, _, _ := join(t, s, "")
	send(t, a, ws.ShareTextEvent, 4, map[string]any{"to": []string{strings.Repeat("x", 129)}, "text": "hi"})

	var outcome domain.Outcome
	expect(t, a, ws.AckEvent, &outcome)
	if outcome.Error != "bad_request" {
		t.Errorf("outcome = %+v, want bad_request", outcome)
	}
}

func TestConnectHandler_ShareTextWithoutData(t *testing.T) {
	s := newTestServer(t)

	a, _, _ := join(t, s, "")
	if err := a.WriteMessage(websocket.TextMessage, []byte(`{"event":"share:text","ack":5}`)); err != nil {
		t.Fatal(err)
	}

	var outcome domain.Outcome
	ack := expect(t, a, ws.AckEvent, &outcome)
	if ack.Ack != 5 || outcome.Error != "no_recipients" {
		t.Errorf("ack = %d %+v, want 5 error no_recipients", ack.Ack, outcome)
	}
}

func TestConnectHandler_ManyRecipients(t *testing.T) {
	s := newTestServer(t)

	a, aUser, _ := join(t, s, "")
	b, bUser, _ := join(t, s, "key="+string(aUser.Key))
	expect(t, a, ws.UsersUpdateEvent, nil)

	to := make([]string, 0, 301)
	for i := range 300 {
		to = append(to, fmt.Sprintf("gone-%d", i))
	}
	to = append(to, bUser.User.ID)
	send(t, a, ws.ShareTextEvent, 6, map[string]any{"to": to, "text": "crowd"})

	var text ws.TextPayload
	expect(t, b, ws.ShareTextEvent, &text)
	if text.Text != "crowd" {
		t.Errorf("text = %q, want crowd", text.Text)
	}

	var outcome domain.Outcome
	ack := expect(t, a, ws.AckEvent, &outcome)
	if ack.Ack != 6 || !outcome.OK() {
		t.Errorf("ack = %d %+v, want 6 ok", ack.Ack, outcome)
	}
}

type recordedEntry struct {
	msg   string
	extra map[logging.ExtraKey]any
}

// recordingLogger keeps debug entries and discards everything else.
type recordingLogger struct {
	logging.Logger

	mu      sync.Mutex
	entries []recordedEntry
}

func (l *recordingLogger) Debug(_ logging.Category, _ logging.SubCategory, msg string, extra map[logging.ExtraKey]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, recordedEntry{msg: msg, extra: extra})
}

func (l *recordingLogger) codecs() []any {
	l.mu.Lock()
	defer l.mu.Unlock()

	var codecs []any
	for _, e := range l.entries {
		if c, ok := e.extra[logging.Codec]; ok && e.msg == "connection attached" {
			codecs = append(codecs, c)
		}
	}
	return codecs
}

func TestConnectHandler_LogsCodec(t *testing.T) {
	logger := &recordingLogger{Logger: logging.NewNop()}
	s := newTestServerWithLogger(t, logger)

	readBinary(t, s.dial(t, "codec=msgpack"), ws.UserUpdateEvent, nil)

	// The debug line precedes the first frame the connection receives.
	codecs := logger.codecs()
	if len(codecs) == 0 || codecs[len(codecs)-1] != "msgpack" {
		t.Errorf("logged codecs = %v, want msgpack", codecs)
	}
}
