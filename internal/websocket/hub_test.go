package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/tasukuchiba/ifocus/internal/models"
)

func startHub(t *testing.T, chats ChatSource) *Hub {
	t.Helper()
	hub := NewHub(chats, nil, logs.GetLoggerFromLevel(slog.LevelDebug))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub
}

// waitFor はcondが真になるまで最大1秒待つ
func waitFor(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
	return true
}

// テスト用のクライアントを作成（sendチャネルのみ）
func testClient(hub *Hub, chatID, uid string) *Client {
	return NewClient(hub, nil, chatID, uid)
}

func TestNewHub(t *testing.T) {
	hub := NewHub(nil, nil, logs.GetLoggerFromLevel(slog.LevelDebug))

	if hub == nil {
		t.Fatal("NewHub returned nil")
	}
	if hub.rooms == nil {
		t.Error("rooms map is nil")
	}
	if hub.broadcast == nil || hub.register == nil || hub.unregister == nil {
		t.Error("hub channels are not initialized")
	}
}

func TestHub_PublishToRoomOnly(t *testing.T) {
	hub := startHub(t, nil)

	inRoom := testClient(hub, "alice_bob", "bob")
	otherRoom := testClient(hub, "alice_carol", "carol")
	hub.Register(inRoom)
	hub.Register(otherRoom)

	if !waitFor(t, func() bool { return hub.ClientCount() == 2 }) {
		t.Errorf("Expected 2 clients, got %d", hub.ClientCount())
	}

	text := "Olá!"
	hub.Publish(models.Message{ID: "m1", ChatID: "alice_bob", SenderID: "alice", ReceiverID: "bob", Message: &text, Timestamp: 10})

	select {
	case out := <-inRoom.send:
		if out.id != "m1" {
			t.Errorf("Expected id 'm1', got '%s'", out.id)
		}
		var frame Frame
		if err := json.Unmarshal(out.data, &frame); err != nil {
			t.Fatalf("Failed to unmarshal frame: %v", err)
		}
		if frame.Type != FrameMessage {
			t.Errorf("Expected type 'message', got '%s'", frame.Type)
		}
		if frame.Message == nil || *frame.Message.Message != "Olá!" {
			t.Errorf("Unexpected message payload: %+v", frame.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for message")
	}

	select {
	case out := <-otherRoom.send:
		t.Errorf("Client in another chat received %s", out.data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := startHub(t, nil)

	client1 := testClient(hub, "alice_bob", "alice")
	client2 := testClient(hub, "alice_bob", "bob")

	// クライアント1を登録
	hub.Register(client1)
	if !waitFor(t, func() bool { return hub.RoomSize("alice_bob") == 1 }) {
		t.Errorf("Expected 1 client after first register, got %d", hub.RoomSize("alice_bob"))
	}

	// クライアント2を登録
	hub.Register(client2)
	if !waitFor(t, func() bool { return hub.RoomSize("alice_bob") == 2 }) {
		t.Errorf("Expected 2 clients after second register, got %d", hub.RoomSize("alice_bob"))
	}

	// クライアント1を登録解除
	hub.Unregister(client1)
	if !waitFor(t, func() bool { return hub.ClientCount() == 1 }) {
		t.Errorf("Expected 1 client after unregister, got %d", hub.ClientCount())
	}
	if _, ok := <-client1.send; ok {
		t.Error("Expected send channel of unregistered client to be closed")
	}

	// 二重の登録解除は無視される
	hub.Unregister(client1)

	hub.Unregister(client2)
	if !waitFor(t, func() bool { return hub.ClientCount() == 0 }) {
		t.Errorf("Expected 0 clients after all unregister, got %d", hub.ClientCount())
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	hub := startHub(t, nil)
	slow := testClient(hub, "alice_bob", "bob")
	hub.Register(slow)

	for i := 0; i < sendBuffer+1; i++ {
		hub.Publish(models.Message{ID: "m", ChatID: "alice_bob"})
	}

	if !waitFor(t, func() bool { return hub.ClientCount() == 0 }) {
		t.Errorf("Expected slow client to be dropped, got %d clients", hub.ClientCount())
	}
}

func TestHub_StopClosesClients(t *testing.T) {
	hub := NewHub(nil, nil, logs.GetLoggerFromLevel(slog.LevelDebug))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	client := testClient(hub, "alice_bob", "alice")
	hub.Register(client)
	cancel()

	select {
	case _, ok := <-client.send:
		if ok {
			t.Error("Expected closed send channel")
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for hub shutdown")
	}

	if hub.Register(testClient(hub, "alice_bob", "bob")) {
		t.Error("Expected register to fail after shutdown")
	}
	// 停止後のPublishはブロックしない
	hub.Publish(models.Message{ID: "late", ChatID: "alice_bob"})
}

func TestIncomingMessage_JSON(t *testing.T) {
	jsonStr := `{"type":"message","content":"Hello!"}`

	var msg IncomingMessage
	if err := json.Unmarshal([]byte(jsonStr), &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if msg.Type != "message" {
		t.Errorf("Expected type 'message', got '%s'", msg.Type)
	}
	if msg.Content != "Hello!" {
		t.Errorf("Expected content 'Hello!', got '%s'", msg.Content)
	}
}
