package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tasukuchiba/ifocus/internal/middleware"
	"github.com/tasukuchiba/ifocus/internal/service"
)

const (
	// 書き込み待機時間
	writeWait = 10 * time.Second

	// pongメッセージの待機時間
	pongWait = 60 * time.Second

	// ping送信間隔（pongWaitより短くする必要がある）
	pingPeriod = (pongWait * 9) / 10

	// 最大メッセージサイズ
	maxMessageSize = 8 * 1024

	// 送信バッファ
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// トークンで認証するためオリジンは問わない
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// outbound は送信待ちのフレーム。idはメッセージフレームのときだけ入る
type outbound struct {
	id   string
	data []byte
}

// Client は単一のWebSocket接続を表す
type Client struct {
	hub *Hub

	// WebSocket接続
	conn *websocket.Conn

	// 送信用バッファチャネル
	send   chan outbound
	mu     sync.Mutex
	closed bool

	chatID string
	uid    string

	// スナップショットに含めたメッセージ。ライブ配信と重複したら送らない
	skip map[string]struct{}
}

// NewClient は新しいClientを作成する
func NewClient(hub *Hub, conn *websocket.Conn, chatID, uid string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan outbound, sendBuffer),
		chatID: chatID,
		uid:    uid,
	}
}

// enqueue はフレームを送信キューに入れる。閉じているか満杯ならfalse
func (c *Client) enqueue(o outbound) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- o:
		return true
	default:
		return false
	}
}

// close は送信キューを閉じる。WritePumpはクローズフレームを送って終了する
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) sendError(detail string) {
	data, err := json.Marshal(Frame{Type: FrameError, Error: detail})
	if err != nil {
		return
	}
	c.enqueue(outbound{data: data})
}

// ReadPump はWebSocket接続からメッセージを読み取り、テキストとして送信する
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("WebSocket read error", "uid", c.uid, "error", err)
			}
			break
		}

		// 受信メッセージをパース
		var inMsg IncomingMessage
		if err := json.Unmarshal(message, &inMsg); err != nil {
			c.sendError("invalid frame")
			continue
		}

		// メッセージタイプが"message"の場合のみ処理
		if inMsg.Type != "message" {
			continue
		}
		if strings.TrimSpace(inMsg.Content) == "" {
			c.sendError("message must have text")
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		_, err = c.hub.chats.SendText(ctx, c.uid, c.chatID, inMsg.Content)
		cancel()
		if err != nil {
			c.hub.log.Warn("Failed to send message from websocket", "uid", c.uid, "chat_id", c.chatID, "error", err)
			var svcErr *service.Error
			if errors.As(err, &svcErr) {
				c.sendError(svcErr.Detail)
			} else {
				c.sendError("failed to send message")
			}
		}
	}
}

// WritePump はWebSocket接続にメッセージを書き込む。1フレームにつき1つのJSON
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case out, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hubがチャネルをクローズした
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if _, dup := c.skip[out.id]; dup && out.id != "" {
				delete(c.skip, out.id)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, out.data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func statusForError(err error) (int, string) {
	var svcErr *service.Error
	switch {
	case errors.Is(err, service.ErrForbidden) && errors.As(err, &svcErr):
		return http.StatusForbidden, svcErr.Detail
	case errors.Is(err, service.ErrNotFound) && errors.As(err, &svcErr):
		return http.StatusNotFound, svcErr.Detail
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func httpError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

// ServeWs はトークンと参加者を確認してからWebSocket接続をアップグレードし、
// 最新メッセージのスナップショットを送ってからライブ配信を始める
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	chatID := r.URL.Query().Get("chat_id")
	if chatID == "" {
		httpError(w, http.StatusBadRequest, "chat_id parameter is required")
		return
	}
	token, ok := middleware.BearerToken(r)
	if !ok {
		w.Header().Set("WWW-Authenticate", "Bearer")
		httpError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	claims, err := hub.verifier.VerifyIDToken(token)
	if err != nil {
		w.Header().Set("WWW-Authenticate", "Bearer")
		httpError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}
	uid := claims.UID()
	if _, err := hub.chats.Authorize(r.Context(), chatID, uid); err != nil {
		status, detail := statusForError(err)
		if status == http.StatusInternalServerError {
			hub.log.Error("Failed to authorize subscription", "chat_id", chatID, "error", err)
		}
		httpError(w, status, detail)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Warn("WebSocket upgrade error", "error", err)
		return
	}

	// スナップショットより先に登録し、その間のメッセージを取りこぼさない
	client := NewClient(hub, conn, chatID, uid)
	if !hub.Register(client) {
		conn.Close()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	snapshot, err := hub.chats.RecentMessages(ctx, chatID)
	cancel()
	if err != nil {
		hub.log.Error("Failed to load snapshot", "chat_id", chatID, "error", err)
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteJSON(Frame{Type: FrameError, Error: "failed to load messages"})
		hub.Unregister(client)
		conn.Close()
		return
	}
	client.skip = make(map[string]struct{}, len(snapshot))
	for _, m := range snapshot {
		client.skip[m.ID] = struct{}{}
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(Frame{Type: FrameSnapshot, Messages: snapshot}); err != nil {
		hub.Unregister(client)
		conn.Close()
		return
	}

	// goroutineで読み書きを並行実行
	go client.WritePump()
	go client.ReadPump()
}
