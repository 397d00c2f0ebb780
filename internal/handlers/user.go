package handlers

import (
	"log/slog"
	"net/http"

	"github.com/tasukuchiba/ifocus/internal/service"
)

// UserHandler は学生プロフィール関連のHTTPリクエストを処理する
type UserHandler struct {
	users *service.UserService
	log   *slog.Logger
}

// NewUserHandler は新しいUserHandlerを作成する
func NewUserHandler(users *service.UserService, log *slog.Logger) *UserHandler {
	return &UserHandler{users: users, log: log}
}

// Create は POST /user/create のハンドラー
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req service.CreateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	res, err := h.users.CreateProfile(r.Context(), id.UID, id.Email, req)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// Me は GET /user/me のハンドラー
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	user, err := h.users.GetMe(r.Context(), id.UID)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdateMe は PUT /user/me のハンドラー
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req service.UpdateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	user, err := h.users.UpdateMe(r.Context(), id.UID, req)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Helpers は GET /users/helpers?subject= のハンドラー。/user/helpers も同じ
func (h *UserHandler) Helpers(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	helpers, err := h.users.GetHelpers(r.Context(), r.URL.Query().Get("subject"), id.UID)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, helpers)
}

// PublicUsers は GET /users/public?uids=a,b のハンドラー
func (h *UserHandler) PublicUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := identity(w, r); !ok {
		return
	}
	users, err := h.users.GetPublicUsers(r.Context(), r.URL.Query().Get("uids"))
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}
