package handlers

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/tasukuchiba/ifocus/internal/service"
)

// CreateChatRequest はチャット作成リクエストのボディ
type CreateChatRequest struct {
	OtherUserID string `json:"other_user_id"`
}

// ChatHandler はチャット関連のHTTPリクエストを処理する
type ChatHandler struct {
	chats     *service.ChatService
	log       *slog.Logger
	maxUpload int64
}

// NewChatHandler は新しいChatHandlerを作成する。maxUploadは添付ファイルの上限バイト数
func NewChatHandler(chats *service.ChatService, log *slog.Logger, maxUpload int64) *ChatHandler {
	return &ChatHandler{chats: chats, log: log, maxUpload: maxUpload}
}

// Create は POST /chat/create のハンドラー。チャットIDを文字列で返す
func (h *ChatHandler) Create(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req CreateChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	chatID, err := h.chats.CreateOrGetChat(r.Context(), id.UID, req.OtherUserID)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatID)
}

// UserChats は GET /chat/user/{id} のハンドラー
func (h *ChatHandler) UserChats(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	chats, err := h.chats.ListUserChats(r.Context(), id.UID, r.PathValue("id"))
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

// Messages は GET /chat/messages/{id}?limit=&before= のハンドラー
func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	limit := service.DefaultMessageLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > service.MaxMessageLimit {
			writeDetail(w, http.StatusBadRequest, "limit must be an integer between 1 and "+strconv.Itoa(service.MaxMessageLimit))
			return
		}
		limit = n
	}
	var before int64
	if raw := q.Get("before"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			writeDetail(w, http.StatusBadRequest, "before must be a positive timestamp")
			return
		}
		before = n
	}

	msgs, err := h.chats.ListMessages(r.Context(), id.UID, r.PathValue("id"), limit, before)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// Send は POST /chat/send/{id} のハンドラー。multipartで receiver_id, text, file を受け取る
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+1<<20)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		writeMultipartError(w, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	req := service.SendMessageRequest{ReceiverID: r.FormValue("receiver_id")}
	if values, ok := r.MultipartForm.Value["text"]; ok && len(values) > 0 {
		text := values[0]
		req.Text = &text
	}

	attachment, err := readAttachment(r, "file")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	req.File = attachment

	sent, err := h.chats.SendMessage(r.Context(), id.UID, r.PathValue("id"), req)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sent)
}

func writeMultipartError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeDetail(w, http.StatusRequestEntityTooLarge, "upload too large")
		return
	}
	writeDetail(w, http.StatusBadRequest, "invalid multipart form")
}

// readAttachment はフォームのファイルを読む。無ければnil
func readAttachment(r *http.Request, field string) (*service.Attachment, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, &service.Error{Kind: service.ErrInvalidArgument, Detail: "invalid file field"}
	}
	defer file.Close()
	return attachmentFrom(file, header)
}

func attachmentFrom(file multipart.File, header *multipart.FileHeader) (*service.Attachment, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	return &service.Attachment{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
