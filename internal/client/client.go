// Package client はiFocusのREST APIとリアルタイム購読のクライアント
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/samber/lo"
	"github.com/tasukuchiba/ifocus/internal/auth"
	"github.com/tasukuchiba/ifocus/internal/models"
)

// APIError はサーバーが返したエラー
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Detail)
}

// IsStatus はerrが指定ステータスのAPIErrorかを返す
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// TokenSource はリクエストに付けるIDトークンを提供する。
// forceRefreshが真ならキャッシュを使わずに更新する
type TokenSource interface {
	Token(ctx context.Context, forceRefresh bool) (string, error)
}

// DefaultTimeout はhttpClientを渡さなかったときのリクエストのタイムアウト
const DefaultTimeout = 20 * time.Second

// Client はREST APIのクライアント
type Client struct {
	baseURL string
	http    *http.Client
	dialer  *gorilla.Dialer
	tokens  TokenSource
}

// New は新しいClientを作成する。httpClientがnilならDefaultTimeout付きのクライアントを使う
func New(baseURL string, tokens TokenSource, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	dialer := *gorilla.DefaultDialer
	dialer.HandshakeTimeout = DefaultTimeout
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient, dialer: &dialer, tokens: tokens}
}

// request は再送できるように本文をバイト列で持つ
type request struct {
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
	auth        bool
}

func jsonRequest(method, path string, v any) (request, error) {
	req := request{method: method, path: path, auth: true}
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			return request{}, fmt.Errorf("encode request: %w", err)
		}
		req.body = data
		req.contentType = "application/json"
	}
	return req, nil
}

func (c *Client) send(ctx context.Context, r request, token string) (*http.Response, error) {
	target := c.baseURL + r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.http.Do(req)
}

// do はリクエストを送り、outにJSONを読み込む。401なら一度だけトークンを更新して再送する
func (c *Client) do(ctx context.Context, r request, out any) error {
	var token string
	if r.auth {
		if c.tokens == nil {
			return &APIError{StatusCode: http.StatusUnauthorized, Detail: "not signed in"}
		}
		var err error
		if token, err = c.tokens.Token(ctx, false); err != nil {
			return err
		}
	}

	resp, err := c.send(ctx, r, token)
	if err != nil {
		return fmt.Errorf("%s %s: %w", r.method, r.path, err)
	}
	if resp.StatusCode == http.StatusUnauthorized && r.auth {
		drain(resp)
		if token, err = c.tokens.Token(ctx, true); err != nil {
			return err
		}
		if resp, err = c.send(ctx, r, token); err != nil {
			return fmt.Errorf("%s %s: %w", r.method, r.path, err)
		}
	}
	defer drain(resp)

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", r.method, r.path, err)
	}
	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func decodeError(resp *http.Response) error {
	var body struct {
		Detail string `json:"detail"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &body); err != nil || body.Detail == "" {
		body.Detail = strings.TrimSpace(string(data))
	}
	return &APIError{StatusCode: resp.StatusCode, Detail: body.Detail}
}

// ProfileUpdate はプロフィール更新の内容。nilのフィールドは変更しない
type ProfileUpdate struct {
	Name              *string  `json:"name,omitempty"`
	HelpingSubjects   []string `json:"helping_subjects"`
	AvatarImageBase64 *string  `json:"avatarImageBase64,omitempty"`
}

// ProfileCreated はプロフィール作成の結果
type ProfileCreated struct {
	Message string `json:"message"`
	UID     string `json:"uid"`
}

// MessageSent はメッセージ送信の結果
type MessageSent struct {
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id"`
}

// Upload はアップロード結果
type Upload struct {
	URL         string `json:"url"`
	Path        string `json:"path"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// File は送信する添付ファイル
type File struct {
	Name string
	Data []byte
}

// ChangePassword はパスワードを変更する
func (c *Client) ChangePassword(ctx context.Context, current, next string) error {
	r, err := jsonRequest(http.MethodPut, "/auth/password", map[string]string{
		"current_password": current,
		"new_password":     next,
	})
	if err != nil {
		return err
	}
	return c.do(ctx, r, nil)
}

// CreateProfile はサインイン中のユーザーのプロフィールを作成する
func (c *Client) CreateProfile(ctx context.Context, name string) (ProfileCreated, error) {
	var out ProfileCreated
	r, err := jsonRequest(http.MethodPost, "/user/create", map[string]string{"name": name})
	if err != nil {
		return out, err
	}
	return out, c.do(ctx, r, &out)
}

// Me はサインイン中のユーザーのプロフィールを返す
func (c *Client) Me(ctx context.Context) (models.User, error) {
	var out models.User
	return out, c.do(ctx, request{method: http.MethodGet, path: "/user/me", auth: true}, &out)
}

// UpdateMe はプロフィールを部分更新する
func (c *Client) UpdateMe(ctx context.Context, update ProfileUpdate) (models.User, error) {
	var out models.User
	r, err := jsonRequest(http.MethodPut, "/user/me", update)
	if err != nil {
		return out, err
	}
	return out, c.do(ctx, r, &out)
}

// Helpers はsubjectを教えている学生を返す
func (c *Client) Helpers(ctx context.Context, subject string) ([]models.Helper, error) {
	var out []models.Helper
	r := request{method: http.MethodGet, path: "/users/helpers", query: url.Values{"subject": {subject}}, auth: true}
	return out, c.do(ctx, r, &out)
}

// PublicUsers はuidの公開プロフィールを返す
func (c *Client) PublicUsers(ctx context.Context, uids []string) ([]models.PublicUser, error) {
	out := []models.PublicUser{}
	if len(uids) == 0 {
		return out, nil
	}
	r := request{method: http.MethodGet, path: "/users/public", query: url.Values{"uids": {strings.Join(uids, ",")}}, auth: true}
	return out, c.do(ctx, r, &out)
}

// Courses は科目付きのコース一覧を返す
func (c *Client) Courses(ctx context.Context) ([]models.Course, error) {
	var out []models.Course
	return out, c.do(ctx, request{method: http.MethodGet, path: "/courses"}, &out)
}

// Subjects は全コースの科目名を重複なしで名前順に返す
func (c *Client) Subjects(ctx context.Context) ([]string, error) {
	courses, err := c.Courses(ctx)
	if err != nil {
		return nil, err
	}
	names := lo.Uniq(lo.FlatMap(courses, func(course models.Course, _ int) []string {
		return lo.Map(course.Disciplines, func(d models.Discipline, _ int) string { return d.Name })
	}))
	sort.Strings(names)
	return names, nil
}

// CreateChat は相手とのチャットを作成し、チャットIDを返す
func (c *Client) CreateChat(ctx context.Context, otherUID string) (string, error) {
	var out string
	r, err := jsonRequest(http.MethodPost, "/chat/create", map[string]string{"other_user_id": otherUID})
	if err != nil {
		return "", err
	}
	return out, c.do(ctx, r, &out)
}

// UserChats はuidのチャット一覧を新しい順に返す
func (c *Client) UserChats(ctx context.Context, uid string) ([]models.Chat, error) {
	var out []models.Chat
	r := request{method: http.MethodGet, path: "/chat/user/" + url.PathEscape(uid), auth: true}
	return out, c.do(ctx, r, &out)
}

// Messages はbefore(0なら最新)より前のメッセージを最大limit件、古い順に返す
func (c *Client) Messages(ctx context.Context, chatID string, limit int, before int64) ([]models.Message, error) {
	var out []models.Message
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if before > 0 {
		q.Set("before", strconv.FormatInt(before, 10))
	}
	r := request{method: http.MethodGet, path: "/chat/messages/" + url.PathEscape(chatID), query: q, auth: true}
	return out, c.do(ctx, r, &out)
}

func multipartRequest(path string, fields map[string]string, file *File) (request, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return request{}, err
		}
	}
	if file != nil {
		fw, err := mw.CreateFormFile("file", file.Name)
		if err != nil {
			return request{}, err
		}
		if _, err := fw.Write(file.Data); err != nil {
			return request{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return request{}, err
	}
	return request{method: http.MethodPost, path: path, body: buf.Bytes(), contentType: mw.FormDataContentType(), auth: true}, nil
}

// SendMessage はテキストまたはファイルを送信する
func (c *Client) SendMessage(ctx context.Context, chatID, receiverUID, text string, file *File) (MessageSent, error) {
	var out MessageSent
	fields := map[string]string{"receiver_id": receiverUID}
	if text != "" {
		fields["text"] = text
	}
	r, err := multipartRequest("/chat/send/"+url.PathEscape(chatID), fields, file)
	if err != nil {
		return out, fmt.Errorf("encode message: %w", err)
	}
	return out, c.do(ctx, r, &out)
}

// UploadFile はファイルをアップロードしてダウンロードURLを返す
func (c *Client) UploadFile(ctx context.Context, file File) (Upload, error) {
	var out Upload
	r, err := multipartRequest("/uploads", nil, &file)
	if err != nil {
		return out, fmt.Errorf("encode upload: %w", err)
	}
	return out, c.do(ctx, r, &out)
}

// postTokens は認証なしでトークンを取得する
func postTokens(ctx context.Context, c *Client, path string, body any) (auth.TokenPair, error) {
	var out auth.TokenPair
	r, err := jsonRequest(http.MethodPost, path, body)
	if err != nil {
		return out, err
	}
	r.auth = false
	return out, c.do(ctx, r, &out)
}
