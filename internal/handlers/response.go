// Package handlers はiFocusのREST APIを実装する
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/tasukuchiba/ifocus/internal/middleware"
	"github.com/tasukuchiba/ifocus/internal/service"
)

// ErrorResponse はエラー時のレスポンスボディ
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// MessageResponse は更新系APIのレスポンスボディ
type MessageResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}

// statusFor はサービスのエラーをHTTPステータスに対応させる
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError はエラーをJSONで返す。想定外のエラーは詳細を隠してログに残す
func writeError(w http.ResponseWriter, log *slog.Logger, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeDetail(w, status, "internal server error")
		return
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	writeDetail(w, status, err.Error())
}

// decodeJSON はリクエストボディをvに読み込む。空のボディはエラー
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return &service.Error{Kind: service.ErrInvalidArgument, Detail: "request body is required"}
		}
		return &service.Error{Kind: service.ErrInvalidArgument, Detail: "invalid request body"}
	}
	return nil
}

// identity は認証ミドルウェアが載せた利用者を返す
func identity(w http.ResponseWriter, r *http.Request) (middleware.Identity, bool) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeDetail(w, http.StatusUnauthorized, "not authenticated")
	}
	return id, ok
}
