package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"slidegate/pkg/logging/logging"
)

type createLessonRequest struct {
	Topic         string `json:"topic"`
	SchoolContext string `json:"schoolContext"`
}

// CreateLesson handles POST /v1/lessons.
func (h *SlideHandler) CreateLesson(w http.ResponseWriter, r *http.Request) {
	var body createLessonRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_json", "request body must be a JSON object")
		return
	}

	lesson, err := h.svc.CreateLesson(r.Context(), body.Topic, body.SchoolContext)
	if err != nil {
		respondError(w, r, err)
		return
	}

	logging.L(r.Context()).Info("lesson_created", zap.String("lesson_id", lesson.ID))
	w.Header().Set("Location", "/v1/lessons/"+lesson.ID)
	writeJSON(w, r, http.StatusCreated, lesson)
}

// GetLesson handles GET /v1/lessons/{lessonID}.
func (h *SlideHandler) GetLesson(w http.ResponseWriter, r *http.Request) {
	lesson, err := h.svc.Lesson(r.Context(), chi.URLParam(r, "lessonID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, lesson)
}

// Progress handles GET /v1/lessons/{lessonID}/progress.
func (h *SlideHandler) Progress(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Progress(r.Context(), chi.URLParam(r, "lessonID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

// DeleteLesson handles DELETE /v1/lessons/{lessonID}.
func (h *SlideHandler) DeleteLesson(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteLesson(r.Context(), chi.URLParam(r, "lessonID")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
