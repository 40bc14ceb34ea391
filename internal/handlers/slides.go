package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"slidegate/internal/service"
	"slidegate/internal/slide"
	"slidegate/internal/store"
	"slidegate/pkg/logging/logging"
)

// SlideService is what the HTTP layer needs from *service.Service.
type SlideService interface {
	GetOrGenerateSlide(ctx context.Context, req slide.GenerationRequest) (slide.Slide, error)
	CreateLesson(ctx context.Context, topic, schoolContext string) (*store.Lesson, error)
	Lesson(ctx context.Context, id string) (*store.Lesson, error)
	LessonSlide(ctx context.Context, id string, index int) (slide.Slide, error)
	Progress(ctx context.Context, id string) (*service.Progress, error)
	DeleteLesson(ctx context.Context, id string) error
	RegenerateSlide(ctx context.Context, id string, index int) error
}

// SlideHandler serves the /v1 slide and lesson endpoints.
type SlideHandler struct {
	svc SlideService
}

func NewSlideHandler(svc SlideService) *SlideHandler {
	return &SlideHandler{svc: svc}
}

// GenerateSlide handles POST /v1/slides.
func (h *SlideHandler) GenerateSlide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	var req slide.GenerationRequest
	if err := decodeJSON(r, &req); err != nil {
		logging.L(ctx).Warn("invalid request", zap.Error(err))
		writeError(w, r, http.StatusBadRequest, "invalid_json", "request body must be a JSON object")
		return
	}

	s, err := h.svc.GetOrGenerateSlide(ctx, req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	logging.L(ctx).Info("slide_served",
		zap.Int("slide_index", s.Index),
		zap.String("lesson_id", req.LessonID),
		zap.Bool("fallback", s.Fallback),
		zap.Duration("total_latency_ms", time.Since(start)),
	)
	writeJSON(w, r, http.StatusOK, s)
}

// LessonSlide handles GET /v1/lessons/{lessonID}/slides/{index}.
func (h *SlideHandler) LessonSlide(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "slide index must be an integer")
		return
	}

	s, err := h.svc.LessonSlide(r.Context(), chi.URLParam(r, "lessonID"), index)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s)
}

// RegenerateSlide handles DELETE /v1/lessons/{lessonID}/slides/{index}.
func (h *SlideHandler) RegenerateSlide(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "slide index must be an integer")
		return
	}

	if err := h.svc.RegenerateSlide(r.Context(), chi.URLParam(r, "lessonID"), index); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
