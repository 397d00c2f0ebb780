package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	gorilla "github.com/gorilla/websocket"
	"github.com/tasukuchiba/ifocus/internal/models"
)

// Subscription はチャットのリアルタイム購読
type Subscription struct {
	conn     *gorilla.Conn
	messages chan models.Message
	errs     chan string
	done     chan struct{}

	mu   sync.Mutex
	err  error
	once sync.Once
}

// Subscribe はchatIDを購読する。最初に最新メッセージのスナップショットを古い順に流し、
// その後は新しいメッセージを届ける
func (c *Client) Subscribe(ctx context.Context, chatID string) (*Subscription, error) {
	if c.tokens == nil {
		return nil, ErrSignedOut
	}
	conn, resp, err := c.dial(ctx, chatID, false)
	if resp != nil && resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		conn, resp, err = c.dial(ctx, chatID, true)
	}
	if err != nil {
		if resp != nil {
			defer drain(resp)
			return nil, decodeError(resp)
		}
		return nil, err
	}

	sub := &Subscription{
		conn:     conn,
		messages: make(chan models.Message, 128),
		errs:     make(chan string, 8),
		done:     make(chan struct{}),
	}
	go sub.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// dial はトークンを付けて接続する。forceRefreshならトークンを取り直す
func (c *Client) dial(ctx context.Context, chatID string, forceRefresh bool) (*gorilla.Conn, *http.Response, error) {
	token, err := c.tokens.Token(ctx, forceRefresh)
	if err != nil {
		return nil, nil, err
	}
	target, err := c.wsURL(chatID, token)
	if err != nil {
		return nil, nil, err
	}
	conn, resp, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil && resp == nil {
		return nil, nil, fmt.Errorf("dial websocket: %w", err)
	}
	return conn, resp, err
}

func (c *Client) wsURL(chatID, token string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"chat_id": {chatID}, "token": {token}}.Encode()
	return u.String(), nil
}

func (s *Subscription) readLoop() {
	defer close(s.messages)
	defer close(s.errs)
	for {
		var frame models.Frame
		if err := s.conn.ReadJSON(&frame); err != nil {
			select {
			case <-s.done:
			default:
				if !gorilla.IsCloseError(err, gorilla.CloseNormalClosure) && !errors.Is(err, net.ErrClosed) {
					s.setErr(err)
				}
			}
			return
		}
		switch frame.Type {
		case models.FrameSnapshot:
			for _, m := range frame.Messages {
				if !s.deliver(m) {
					return
				}
			}
		case models.FrameMessage:
			if frame.Message != nil && !s.deliver(*frame.Message) {
				return
			}
		case models.FrameError:
			select {
			case s.errs <- frame.Error:
			default:
			}
		}
	}
}

// deliver は購読が閉じられていればfalseを返す
func (s *Subscription) deliver(m models.Message) bool {
	select {
	case s.messages <- m:
		return true
	case <-s.done:
		return false
	}
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Messages はメッセージのチャネル。購読が終わると閉じる
func (s *Subscription) Messages() <-chan models.Message {
	return s.messages
}

// Errors はサーバーから届いたエラーフレームのチャネル
func (s *Subscription) Errors() <-chan string {
	return s.errs
}

// Err は購読が異常終了した原因を返す
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Send はテキストをチャットの相手に送る
func (s *Subscription) Send(text string) error {
	data, err := json.Marshal(models.IncomingMessage{Type: "message", Content: text})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(gorilla.TextMessage, data)
}

// Close は購読を終了する
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		_ = s.conn.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, ""))
		s.mu.Unlock()
		err = s.conn.Close()
	})
	return err
}
