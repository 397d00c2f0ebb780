package handlers

import (
	"log/slog"
	"net/http"

	"github.com/tasukuchiba/ifocus/internal/service"
)

// AuthHandler はサインアップ・サインイン・トークン更新を処理する
type AuthHandler struct {
	auth *service.AuthService
	log  *slog.Logger
}

// NewAuthHandler は新しいAuthHandlerを作成する
func NewAuthHandler(auth *service.AuthService, log *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, log: log}
}

// Register は POST /auth/register のハンドラー
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req service.CredentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	pair, err := h.auth.Register(r.Context(), req)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pair)
}

// Login は POST /auth/login のハンドラー
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req service.CredentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	pair, err := h.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// Refresh は POST /auth/refresh のハンドラー
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req service.RefreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	pair, err := h.auth.Refresh(r.Context(), req)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// ChangePassword は PUT /auth/password のハンドラー
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req service.ChangePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	if err := h.auth.ChangePassword(r.Context(), id.UID, req); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "password updated"})
}
