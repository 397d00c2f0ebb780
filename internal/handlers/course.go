package handlers

import (
	"log/slog"
	"net/http"

	"github.com/tasukuchiba/ifocus/internal/service"
)

// CourseHandler はコースと科目のHTTPリクエストを処理する。
// 名前はクエリパラメータ name で受け取る
type CourseHandler struct {
	catalog *service.CatalogService
	log     *slog.Logger
}

// NewCourseHandler は新しいCourseHandlerを作成する
func NewCourseHandler(catalog *service.CatalogService, log *slog.Logger) *CourseHandler {
	return &CourseHandler{catalog: catalog, log: log}
}

// List は GET /courses のハンドラー
func (h *CourseHandler) List(w http.ResponseWriter, r *http.Request) {
	courses, err := h.catalog.ListCourses(r.Context())
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, courses)
}

// Get は GET /courses/{id} のハンドラー
func (h *CourseHandler) Get(w http.ResponseWriter, r *http.Request) {
	course, err := h.catalog.GetCourse(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, course)
}

// Create は POST /courses/{id}?name= のハンドラー
func (h *CourseHandler) Create(w http.ResponseWriter, r *http.Request) {
	course, err := h.catalog.CreateCourse(r.Context(), r.PathValue("id"), r.URL.Query().Get("name"))
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, MessageResponse{Message: "course created", Data: course})
}

// Update は PUT /courses/{id}?name= のハンドラー
func (h *CourseHandler) Update(w http.ResponseWriter, r *http.Request) {
	course, err := h.catalog.RenameCourse(r.Context(), r.PathValue("id"), r.URL.Query().Get("name"))
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "course updated", Data: course})
}

// Delete は DELETE /courses/{id} のハンドラー
func (h *CourseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteCourse(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "course removed"})
}

// ListDisciplines は GET /courses/{id}/disciplines のハンドラー
func (h *CourseHandler) ListDisciplines(w http.ResponseWriter, r *http.Request) {
	disciplines, err := h.catalog.ListDisciplines(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, disciplines)
}

// GetDiscipline は GET /courses/{id}/disciplines/{did} のハンドラー
func (h *CourseHandler) GetDiscipline(w http.ResponseWriter, r *http.Request) {
	d, err := h.catalog.GetDiscipline(r.Context(), r.PathValue("id"), r.PathValue("did"))
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// CreateDiscipline は POST /courses/{id}/disciplines/{did}?name= のハンドラー
func (h *CourseHandler) CreateDiscipline(w http.ResponseWriter, r *http.Request) {
	d, err := h.catalog.CreateDiscipline(r.Context(), r.PathValue("id"), r.PathValue("did"), r.URL.Query().Get("name"))
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, MessageResponse{Message: "discipline created", Data: d})
}

// UpdateDiscipline は PUT /courses/{id}/disciplines/{did}?name= のハンドラー
func (h *CourseHandler) UpdateDiscipline(w http.ResponseWriter, r *http.Request) {
	d, err := h.catalog.RenameDiscipline(r.Context(), r.PathValue("id"), r.PathValue("did"), r.URL.Query().Get("name"))
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "discipline updated", Data: d})
}

// DeleteDiscipline は DELETE /courses/{id}/disciplines/{did} のハンドラー
func (h *CourseHandler) DeleteDiscipline(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteDiscipline(r.Context(), r.PathValue("id"), r.PathValue("did")); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "discipline removed"})
}
