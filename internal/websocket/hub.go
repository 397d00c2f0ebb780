// Package websocket はチャットごとのリアルタイム購読を提供する
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/tasukuchiba/ifocus/internal/middleware"
	"github.com/tasukuchiba/ifocus/internal/models"
	"github.com/tasukuchiba/ifocus/internal/service"
)

// フレームの種類
const (
	FrameSnapshot = models.FrameSnapshot
	FrameMessage  = models.FrameMessage
	FrameError    = models.FrameError
)

// Frame はクライアントへ送信するメッセージの形式
type Frame = models.Frame

// IncomingMessage はクライアントから受信するメッセージの形式
type IncomingMessage = models.IncomingMessage

// ChatSource は購読に必要なチャットの操作
type ChatSource interface {
	Authorize(ctx context.Context, chatID, uid string) (models.Chat, error)
	RecentMessages(ctx context.Context, chatID string) ([]models.Message, error)
	SendText(ctx context.Context, senderUID, chatID, text string) (service.MessageSent, error)
}

// broadcastItem はチャット宛ての配信
type broadcastItem struct {
	chatID string
	out    outbound
}

// Hub はチャットごとのWebSocketクライアントを管理する
type Hub struct {
	// チャットIDごとの接続中クライアント
	rooms map[string]map[*Client]bool
	mu    sync.RWMutex

	// ブロードキャスト用チャネル
	broadcast chan broadcastItem

	// クライアント登録用チャネル
	register chan *Client

	// クライアント登録解除用チャネル
	unregister chan *Client

	// Runの終了で閉じる
	done chan struct{}

	chats    ChatSource
	verifier middleware.TokenVerifier
	log      *slog.Logger
}

// NewHub は新しいHubを作成する
func NewHub(chats ChatSource, verifier middleware.TokenVerifier, log *slog.Logger) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		broadcast:  make(chan broadcastItem, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		chats:      chats,
		verifier:   verifier,
		log:        log,
	}
}

// Run はHubのメインループを開始する。ctxが終了すると全クライアントを切断する
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for chatID, room := range h.rooms {
				for client := range room {
					client.close()
				}
				delete(h.rooms, chatID)
			}
			h.mu.Unlock()
			h.log.Info("Hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			room, ok := h.rooms[client.chatID]
			if !ok {
				room = make(map[*Client]bool)
				h.rooms[client.chatID] = room
			}
			room[client] = true
			h.mu.Unlock()
			h.log.Debug("Client registered", "uid", client.uid, "chat_id", client.chatID, "room_size", len(room))

		case client := <-h.unregister:
			h.remove(client)

		case item := <-h.broadcast:
			h.mu.Lock()
			for client := range h.rooms[item.chatID] {
				if !client.enqueue(item.out) {
					// 送信が詰まったクライアントは切断する
					h.log.Warn("Dropping slow client", "uid", client.uid, "chat_id", client.chatID)
					h.removeLocked(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(client)
}

func (h *Hub) removeLocked(client *Client) {
	room, ok := h.rooms[client.chatID]
	if !ok || !room[client] {
		return
	}
	delete(room, client)
	if len(room) == 0 {
		delete(h.rooms, client.chatID)
	}
	client.close()
	h.log.Debug("Client unregistered", "uid", client.uid, "chat_id", client.chatID)
}

// Register はクライアントを登録する。Hubが停止していればfalse
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister はクライアントの登録を解除する
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish は新しいメッセージを同じチャットの購読者に配信する
func (h *Hub) Publish(msg models.Message) {
	data, err := json.Marshal(Frame{Type: FrameMessage, Message: &msg})
	if err != nil {
		h.log.Error("Failed to encode message frame", "error", err)
		return
	}
	select {
	case h.broadcast <- broadcastItem{chatID: msg.ChatID, out: outbound{id: msg.ID, data: data}}:
	case <-h.done:
	}
}

// ClientCount は接続中のクライアント数を返す
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, room := range h.rooms {
		n += len(room)
	}
	return n
}

// RoomSize はチャットを購読しているクライアント数を返す
func (h *Hub) RoomSize(chatID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[chatID])
}
