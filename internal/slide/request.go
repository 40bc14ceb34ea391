package slide

import (
	"errors"
	"fmt"
	"strings"
)

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("invalid generation request")

// ValidationError describes a malformed GenerationRequest. It is returned
// before the request ever reaches the cache.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid generation request: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// GenerationRequest identifies the work needed to produce one slide.
type GenerationRequest struct {
	Topic              string `json:"topic"`
	SlideIndex         int    `json:"slideIndex"`
	LessonID           string `json:"lessonId,omitempty"`
	SchoolContext      string `json:"schoolContext,omitempty"`
	CustomInstructions string `json:"customInstructions,omitempty"`
}

func (r GenerationRequest) Validate() error {
	if strings.TrimSpace(r.Topic) == "" {
		return &ValidationError{Field: "topic", Reason: "is required"}
	}
	if r.SlideIndex < 1 || r.SlideIndex > TotalSlides {
		return &ValidationError{
			Field:  "slideIndex",
			Reason: fmt.Sprintf("must be between 1 and %d, got %d", TotalSlides, r.SlideIndex),
		}
	}
	return nil
}

// Normalized trims the free-text fields so that requests differing only in
// surrounding whitespace share an identity.
func (r GenerationRequest) Normalized() GenerationRequest {
	r.Topic = strings.TrimSpace(r.Topic)
	r.LessonID = strings.TrimSpace(r.LessonID)
	r.SchoolContext = strings.TrimSpace(r.SchoolContext)
	r.CustomInstructions = strings.TrimSpace(r.CustomInstructions)
	return r
}
