package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/tasukuchiba/ifocus/internal/blob"
	"github.com/tasukuchiba/ifocus/internal/models"
	"github.com/tasukuchiba/ifocus/internal/storage"
)

const (
	DefaultMessageLimit = 20
	MaxMessageLimit     = 50
	// SnapshotSize は購読開始時に送るメッセージ数
	SnapshotSize = 100
)

// Publisher は新しいメッセージをリアルタイム購読者に配信する
type Publisher interface {
	Publish(msg models.Message)
}

type noopPublisher struct{}

func (noopPublisher) Publish(models.Message) {}

// Attachment はメッセージに添付するファイル
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// SendMessageRequest はメッセージ送信リクエスト
type SendMessageRequest struct {
	ReceiverID string
	Text       *string
	File       *Attachment
}

// MessageSent は送信結果
type MessageSent struct {
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id"`
}

// ChatService はチャットとメッセージの操作
type ChatService struct {
	store     storage.ChatStore
	blobs     blob.Store
	publisher Publisher
	log       *slog.Logger
	now       func() time.Time
}

// NewChatService は新しいChatServiceを作成する。publisherがnilなら配信しない
func NewChatService(store storage.ChatStore, blobs blob.Store, publisher Publisher, log *slog.Logger) *ChatService {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &ChatService{store: store, blobs: blobs, publisher: publisher, log: log, now: time.Now}
}

// SetPublisher は配信先を差し替える。hubはサービスの後に作られるため
func (s *ChatService) SetPublisher(p Publisher) {
	if p == nil {
		p = noopPublisher{}
	}
	s.publisher = p
}

// CreateOrGetChat はuidとotherのチャットを作成、または既存のチャットIDを返す
func (s *ChatService) CreateOrGetChat(ctx context.Context, uid, other string) (string, error) {
	other = strings.TrimSpace(other)
	if other == "" {
		return "", newError(ErrInvalidArgument, "other_user_id is required")
	}
	if other == uid {
		return "", newError(ErrInvalidArgument, "cannot start a chat with yourself")
	}

	chatID := models.ChatIDFor(uid, other)
	participants := []string{uid, other}
	slices.Sort(participants)
	if _, err := s.store.EnsureChat(ctx, chatID, participants, s.now().UnixMilli()); err != nil {
		return "", fmt.Errorf("ensure chat %s: %w", chatID, err)
	}
	return chatID, nil
}

// ListUserChats はuserのチャット一覧を返す。プレビューが無いチャットは最新メッセージから補完して保存する
func (s *ChatService) ListUserChats(ctx context.Context, requesterUID, userID string) ([]models.Chat, error) {
	if requesterUID != userID {
		return nil, newError(ErrForbidden, "cannot list chats of another user")
	}
	chats, err := s.store.ListChatsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	backfilled := false
	for i := range chats {
		if chats[i].LastMessage != nil {
			continue
		}
		latest, err := s.store.LatestMessage(ctx, chats[i].ID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("latest message of %s: %w", chats[i].ID, err)
		}
		preview := previewFor(latest)
		updatedAt := max(chats[i].UpdatedAt, latest.Timestamp)
		if err := s.store.UpdateChatPreview(ctx, chats[i].ID, preview, latest.SenderID, updatedAt); err != nil {
			return nil, fmt.Errorf("backfill preview of %s: %w", chats[i].ID, err)
		}
		chats[i].LastMessage = lo.ToPtr(preview)
		chats[i].LastSender = lo.ToPtr(latest.SenderID)
		chats[i].UpdatedAt = updatedAt
		backfilled = true
	}

	if backfilled {
		slices.SortStableFunc(chats, func(a, b models.Chat) int {
			if c := cmp.Compare(b.UpdatedAt, a.UpdatedAt); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		})
	}
	return chats, nil
}

// Authorize はuidがチャットの参加者であることを確認する
func (s *ChatService) Authorize(ctx context.Context, chatID, uid string) (models.Chat, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Chat{}, newError(ErrNotFound, "chat not found")
	}
	if err != nil {
		return models.Chat{}, fmt.Errorf("get chat %s: %w", chatID, err)
	}
	if !chat.HasParticipant(uid) {
		return models.Chat{}, newError(ErrForbidden, "not a participant of this chat")
	}
	return chat, nil
}

// ListMessages はbeforeより前のメッセージを最大limit件、時刻の昇順で返す。
// limitが0ならDefaultMessageLimit、beforeが0なら最新から
func (s *ChatService) ListMessages(ctx context.Context, uid, chatID string, limit int, before int64) ([]models.Message, error) {
	if limit == 0 {
		limit = DefaultMessageLimit
	}
	if limit < 1 || limit > MaxMessageLimit {
		return nil, newError(ErrInvalidArgument, "limit must be between 1 and %d", MaxMessageLimit)
	}
	if before < 0 {
		return nil, newError(ErrInvalidArgument, "before must be a positive timestamp")
	}
	if _, err := s.Authorize(ctx, chatID, uid); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, chatID, limit, before)
	if err != nil {
		return nil, fmt.Errorf("list messages of %s: %w", chatID, err)
	}
	return msgs, nil
}

// RecentMessages は購読開始時のスナップショットを返す
func (s *ChatService) RecentMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	msgs, err := s.store.ListMessages(ctx, chatID, SnapshotSize, 0)
	if err != nil {
		return nil, fmt.Errorf("recent messages of %s: %w", chatID, err)
	}
	return msgs, nil
}

// SendMessage はテキストまたはファイルを送信する。チャットが無ければ作成する
func (s *ChatService) SendMessage(ctx context.Context, senderUID, chatID string, req SendMessageRequest) (MessageSent, error) {
	receiver := strings.TrimSpace(req.ReceiverID)
	if receiver == "" {
		return MessageSent{}, newError(ErrInvalidArgument, "receiver_id is required")
	}
	if receiver == senderUID {
		return MessageSent{}, newError(ErrInvalidArgument, "cannot send a message to yourself")
	}
	if chatID != models.ChatIDFor(senderUID, receiver) {
		return MessageSent{}, newError(ErrForbidden, "chat does not belong to sender and receiver")
	}

	var text *string
	if req.Text != nil && strings.TrimSpace(*req.Text) != "" {
		text = lo.ToPtr(*req.Text)
	}
	hasFile := req.File != nil && len(req.File.Data) > 0
	if text == nil && !hasFile {
		return MessageSent{}, newError(ErrInvalidArgument, "message must have text or a file")
	}

	now := s.now().UnixMilli()
	participants := []string{senderUID, receiver}
	slices.Sort(participants)
	if _, err := s.store.EnsureChat(ctx, chatID, participants, now); err != nil {
		return MessageSent{}, fmt.Errorf("ensure chat %s: %w", chatID, err)
	}

	msg := models.Message{
		ID:         uuid.NewString(),
		ChatID:     chatID,
		SenderID:   senderUID,
		ReceiverID: receiver,
		Message:    text,
		Timestamp:  now,
	}
	if hasFile {
		obj, name, err := s.uploadAttachment(ctx, chatID, msg.ID, *req.File)
		if err != nil {
			return MessageSent{}, err
		}
		msg.FileURL = lo.ToPtr(obj.URL)
		msg.FileType = lo.ToPtr(obj.ContentType)
		msg.FileName = lo.ToPtr(name)
	}

	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return MessageSent{}, fmt.Errorf("save message: %w", err)
	}
	if err := s.store.UpdateChatPreview(ctx, chatID, previewFor(msg), senderUID, msg.Timestamp); err != nil {
		return MessageSent{}, fmt.Errorf("update chat preview: %w", err)
	}
	s.publisher.Publish(msg)

	s.log.Debug("Message sent", "chat_id", chatID, "message_id", msg.ID, "has_file", hasFile)
	return MessageSent{MessageID: msg.ID, ChatID: chatID}, nil
}

// SendText はチャットの相手にテキストを送る。websocketからの送信に使う
func (s *ChatService) SendText(ctx context.Context, senderUID, chatID, text string) (MessageSent, error) {
	chat, err := s.Authorize(ctx, chatID, senderUID)
	if err != nil {
		return MessageSent{}, err
	}
	receiver, ok := chat.OtherParticipant(senderUID)
	if !ok {
		return MessageSent{}, newError(ErrForbidden, "not a participant of this chat")
	}
	return s.SendMessage(ctx, senderUID, chatID, SendMessageRequest{ReceiverID: receiver, Text: &text})
}

// CleanFileName はアップロードされたファイル名からパス要素を取り除く
func CleanFileName(name string) string {
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || name == "/" {
		return "upload"
	}
	return name
}

// SniffContentType は申告されたcontent typeが無いか汎用の場合に中身から判定する
func SniffContentType(declared string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	detected, _, _ := strings.Cut(mimetype.Detect(data).String(), ";")
	return strings.TrimSpace(detected)
}

func (s *ChatService) uploadAttachment(ctx context.Context, chatID, messageID string, file Attachment) (blob.Object, string, error) {
	name := CleanFileName(file.Name)
	contentType := SniffContentType(file.ContentType, file.Data)
	obj, err := s.blobs.Put(ctx, fmt.Sprintf("chats/%s/%s/%s", chatID, messageID, name), contentType, file.Data)
	if errors.Is(err, blob.ErrInvalidPath) {
		return blob.Object{}, "", newError(ErrInvalidArgument, "invalid file name")
	}
	if err != nil {
		return blob.Object{}, "", fmt.Errorf("upload attachment: %w", err)
	}
	return obj, name, nil
}
