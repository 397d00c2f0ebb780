package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tasukuchiba/ifocus/internal/auth"
)

// 有効期限のこの時間前から更新する
const refreshMargin = 30 * time.Second

// ErrSignedOut はサインインしていないときのエラー
var ErrSignedOut = errors.New("not signed in")

// AuthState は認証状態
type AuthState struct {
	SignedIn bool
	UID      string
	Email    string
}

// Session はトークンを保持し、期限切れの前に更新するTokenSource
type Session struct {
	mu        sync.Mutex
	api       *Client
	tokens    auth.TokenPair
	expiresAt time.Time
	listeners map[int]func(AuthState)
	nextID    int
	now       func() time.Time
}

// NewSession は未サインインのSessionを作成する
func NewSession(baseURL string, httpClient *http.Client) *Session {
	return &Session{
		api:       New(baseURL, nil, httpClient),
		listeners: make(map[int]func(AuthState)),
		now:       time.Now,
	}
}

// State は現在の認証状態を返す
func (s *Session) State() AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() AuthState {
	if s.tokens.IDToken == "" {
		return AuthState{}
	}
	return AuthState{SignedIn: true, UID: s.tokens.UID, Email: s.tokens.Email}
}

// OnAuthStateChanged は認証状態の変化を購読する。登録時に現在の状態で一度呼ばれる。
// 戻り値の関数で購読を解除する
func (s *Session) OnAuthStateChanged(fn func(AuthState)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	state := s.stateLocked()
	s.mu.Unlock()

	fn(state)
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// notify はロックの外でリスナーを呼ぶ
func (s *Session) notify(state AuthState, listeners []func(AuthState)) {
	for _, fn := range listeners {
		fn(state)
	}
}

func (s *Session) listenersLocked() []func(AuthState) {
	out := make([]func(AuthState), 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}

func (s *Session) setTokens(pair auth.TokenPair) {
	s.mu.Lock()
	s.tokens = pair
	s.expiresAt = s.now().Add(time.Duration(pair.ExpiresIn) * time.Second)
	state, listeners := s.stateLocked(), s.listenersLocked()
	s.mu.Unlock()
	s.notify(state, listeners)
}

// SignIn はメールアドレスとパスワードでサインインする
func (s *Session) SignIn(ctx context.Context, email, password string) error {
	pair, err := postTokens(ctx, s.api, "/auth/login", map[string]string{"email": email, "password": password})
	if err != nil {
		return err
	}
	s.setTokens(pair)
	return nil
}

// SignUp はアカウントを登録してサインインする
func (s *Session) SignUp(ctx context.Context, email, password string) error {
	pair, err := postTokens(ctx, s.api, "/auth/register", map[string]string{"email": email, "password": password})
	if err != nil {
		return err
	}
	s.setTokens(pair)
	return nil
}

// SignOut はトークンを破棄する
func (s *Session) SignOut() {
	s.mu.Lock()
	wasSignedIn := s.tokens.IDToken != ""
	s.tokens = auth.TokenPair{}
	s.expiresAt = time.Time{}
	listeners := s.listenersLocked()
	s.mu.Unlock()
	if wasSignedIn {
		s.notify(AuthState{}, listeners)
	}
}

// Token はIDトークンを返す。期限が近いかforceRefreshなら更新トークンで取り直す。
// 更新に失敗したらサインアウトする
func (s *Session) Token(ctx context.Context, forceRefresh bool) (string, error) {
	s.mu.Lock()
	pair, expiresAt := s.tokens, s.expiresAt
	s.mu.Unlock()

	if pair.IDToken == "" {
		return "", ErrSignedOut
	}
	if !forceRefresh && s.now().Add(refreshMargin).Before(expiresAt) {
		return pair.IDToken, nil
	}

	refreshed, err := postTokens(ctx, s.api, "/auth/refresh", map[string]string{"refresh_token": pair.RefreshToken})
	if IsStatus(err, http.StatusUnauthorized) {
		s.SignOut()
		return "", ErrSignedOut
	}
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}
	s.setTokens(refreshed)
	return refreshed.IDToken, nil
}

// savedSession はファイルに保存する形式
type savedSession struct {
	Tokens    auth.TokenPair `json:"tokens"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// Save はトークンをpathに保存する。所有者だけが読める権限で書く
func (s *Session) Save(path string) error {
	s.mu.Lock()
	data, err := json.MarshalIndent(savedSession{Tokens: s.tokens, ExpiresAt: s.expiresAt}, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// Load はpathからトークンを読み込む。ファイルが無ければ未サインインのまま
func (s *Session) Load(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}
	var saved savedSession
	if err := json.Unmarshal(data, &saved); err != nil {
		return fmt.Errorf("decode session: %w", err)
	}
	s.mu.Lock()
	s.tokens = saved.Tokens
	s.expiresAt = saved.ExpiresAt
	state, listeners := s.stateLocked(), s.listenersLocked()
	s.mu.Unlock()
	s.notify(state, listeners)
	return nil
}
