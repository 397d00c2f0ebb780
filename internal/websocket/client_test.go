package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tasukuchiba/ifocus/internal/auth"
	"github.com/tasukuchiba/ifocus/internal/blob"
	"github.com/tasukuchiba/ifocus/internal/service"
	"github.com/tasukuchiba/ifocus/internal/storage"
)

type wsFixture struct {
	hub    *Hub
	chats  *service.ChatService
	issuer *auth.TokenIssuer
	url    string
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	blobs, err := blob.Open("", "http://example.test", log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = blobs.Close() })

	chats := service.NewChatService(storage.NewMemoryStorage(), blobs, nil, log)
	issuer := auth.NewTokenIssuer("test-secret", time.Hour, time.Hour)
	hub := NewHub(chats, issuer, log)
	chats.SetPublisher(hub)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	// テスト用HTTPサーバーを作成
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(server.Close)

	return &wsFixture{hub: hub, chats: chats, issuer: issuer, url: "ws" + strings.TrimPrefix(server.URL, "http")}
}

func (f *wsFixture) dial(t *testing.T, uid, chatID string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	pair, err := f.issuer.Issue(uid, uid+"@ifsp.edu.br")
	require.NoError(t, err)
	q := url.Values{"chat_id": {chatID}, "token": {pair.IDToken}}
	return websocket.DefaultDialer.Dial(f.url+"?"+q.Encode(), nil)
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	var frame Frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestServeWs_Rejects(t *testing.T) {
	f := newWSFixture(t)
	ctx := context.Background()
	_, err := f.chats.CreateOrGetChat(ctx, "alice", "bob")
	require.NoError(t, err)

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"missing chat", "", http.StatusBadRequest},
		{"missing token", "?chat_id=alice_bob", http.StatusUnauthorized},
		{"bad token", "?chat_id=alice_bob&token=abc", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws"+tt.query, nil)
			w := httptest.NewRecorder()
			ServeWs(f.hub, w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}

	_, resp, err := f.dial(t, "carol", "alice_bob")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = f.dial(t, "alice", "alice_zed")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeWs_SnapshotThenLive(t *testing.T) {
	f := newWSFixture(t)
	ctx := context.Background()
	_, err := f.chats.SendMessage(ctx, "alice", "alice_bob", service.SendMessageRequest{ReceiverID: "bob", Text: lo.ToPtr("primeira")})
	require.NoError(t, err)
	_, err = f.chats.SendMessage(ctx, "bob", "alice_bob", service.SendMessageRequest{ReceiverID: "alice", Text: lo.ToPtr("segunda")})
	require.NoError(t, err)

	conn, resp, err := f.dial(t, "alice", "alice_bob")
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	snapshot := readFrame(t, conn)
	require.Equal(t, FrameSnapshot, snapshot.Type)
	require.Len(t, snapshot.Messages, 2)
	assert.Equal(t, "primeira", *snapshot.Messages[0].Message)
	assert.Equal(t, "segunda", *snapshot.Messages[1].Message)

	sent, err := f.chats.SendMessage(ctx, "bob", "alice_bob", service.SendMessageRequest{ReceiverID: "alice", Text: lo.ToPtr("terceira")})
	require.NoError(t, err)

	live := readFrame(t, conn)
	require.Equal(t, FrameMessage, live.Type)
	require.NotNil(t, live.Message)
	assert.Equal(t, sent.MessageID, live.Message.ID)
	assert.Equal(t, "terceira", *live.Message.Message)
}

func TestClient_MessageFlow(t *testing.T) {
	f := newWSFixture(t)
	_, err := f.chats.CreateOrGetChat(context.Background(), "alice", "bob")
	require.NoError(t, err)

	// クライアント1 (alice) とクライアント2 (bob) を接続
	conn1, _, err := f.dial(t, "alice", "alice_bob")
	require.NoError(t, err)
	defer conn1.Close()
	conn2, _, err := f.dial(t, "bob", "alice_bob")
	require.NoError(t, err)
	defer conn2.Close()

	assert.Equal(t, FrameSnapshot, readFrame(t, conn1).Type)
	assert.Equal(t, FrameSnapshot, readFrame(t, conn2).Type)

	// aliceからメッセージを送信
	require.NoError(t, conn1.WriteMessage(websocket.TextMessage, []byte(`{"type":"message","content":"Hello from Alice!"}`)))

	// bobがメッセージを受信することを確認
	got := readFrame(t, conn2)
	require.Equal(t, FrameMessage, got.Type)
	assert.Equal(t, "Hello from Alice!", *got.Message.Message)
	assert.Equal(t, "alice", got.Message.SenderID)
	assert.Equal(t, "bob", got.Message.ReceiverID)

	// aliceも自分のメッセージを受信することを確認
	own := readFrame(t, conn1)
	assert.Equal(t, got.Message.ID, own.Message.ID)

	// 空のメッセージはエラーフレームになる
	require.NoError(t, conn1.WriteMessage(websocket.TextMessage, []byte(`{"type":"message","content":"  "}`)))
	errFrame := readFrame(t, conn1)
	assert.Equal(t, FrameError, errFrame.Type)

	// ストレージにメッセージが保存されていることを確認
	msgs, err := f.chats.RecentMessages(context.Background(), "alice_bob")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello from Alice!", *msgs[0].Message)
}

func TestClient_Disconnect(t *testing.T) {
	f := newWSFixture(t)
	_, err := f.chats.CreateOrGetChat(context.Background(), "alice", "bob")
	require.NoError(t, err)

	conn, _, err := f.dial(t, "alice", "alice_bob")
	require.NoError(t, err)
	readFrame(t, conn)

	// 接続を確認
	require.True(t, waitFor(t, func() bool { return f.hub.RoomSize("alice_bob") == 1 }))

	// 接続を閉じる
	conn.Close()

	// 切断が処理されるのを待つ
	assert.True(t, waitFor(t, func() bool { return f.hub.ClientCount() == 0 }), "expected 0 clients after disconnect")
}

func TestNewClient(t *testing.T) {
	hub := NewHub(nil, nil, logs.GetLoggerFromLevel(slog.LevelDebug))
	client := NewClient(hub, nil, "alice_bob", "alice")

	if client.hub != hub {
		t.Error("hub not properly set")
	}
	if client.uid != "alice" || client.chatID != "alice_bob" {
		t.Errorf("Unexpected client identity: %s in %s", client.uid, client.chatID)
	}
	if client.send == nil {
		t.Error("send channel is nil")
	}
}
