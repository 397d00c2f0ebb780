package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/tasukuchiba/ifocus/internal/blob"
	"github.com/tasukuchiba/ifocus/internal/service"
)

// UploadResponse はアップロード結果
type UploadResponse struct {
	URL         string `json:"url"`
	Path        string `json:"path"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// UploadHandler はファイルのアップロードとダウンロードを処理する
type UploadHandler struct {
	blobs     blob.Store
	log       *slog.Logger
	maxUpload int64
}

// NewUploadHandler は新しいUploadHandlerを作成する
func NewUploadHandler(blobs blob.Store, log *slog.Logger, maxUpload int64) *UploadHandler {
	return &UploadHandler{blobs: blobs, log: log, maxUpload: maxUpload}
}

// Upload は POST /uploads のハンドラー。uploads/{uid}/{uuid}/{ファイル名} に保存する
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
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

	attachment, err := readAttachment(r, "file")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	if attachment == nil || len(attachment.Data) == 0 {
		writeDetail(w, http.StatusBadRequest, "file is required")
		return
	}

	objectPath := fmt.Sprintf("uploads/%s/%s/%s", id.UID, uuid.NewString(), service.CleanFileName(attachment.Name))
	obj, err := h.blobs.Put(r.Context(), objectPath, service.SniffContentType(attachment.ContentType, attachment.Data), attachment.Data)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	h.log.Info("File uploaded", "uid", id.UID, "path", obj.Path, "size", obj.Size)
	writeJSON(w, http.StatusCreated, UploadResponse{
		URL:         obj.URL,
		Path:        obj.Path,
		ContentType: obj.ContentType,
		Size:        obj.Size,
	})
}

// Download は GET /uploads/{path...} のハンドラー
func (h *UploadHandler) Download(w http.ResponseWriter, r *http.Request) {
	obj, data, err := h.blobs.Get(r.Context(), r.PathValue("path"))
	if errors.Is(err, blob.ErrNotFound) || errors.Is(err, blob.ErrInvalidPath) {
		writeDetail(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	w.Header().Set("Cache-Control", "private, max-age=86400")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; sandbox")
	if !servedInline(obj.ContentType) {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(obj.Path)}))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(data)
	}
}

// servedInline はブラウザで直接表示してよい種類かを返す。
// SVGはスクリプトを含められるためダウンロード扱い
func servedInline(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	if mediaType == "image/svg+xml" {
		return false
	}
	return strings.HasPrefix(mediaType, "image/") ||
		strings.HasPrefix(mediaType, "audio/") ||
		strings.HasPrefix(mediaType, "video/")
}
