package store

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"

	"slidegate/internal/slide"
)

// Lesson is a generated lesson. Its slides start as outline placeholders and
// are filled in as generations complete.
type Lesson struct {
	ID            string        `gorm:"primaryKey;size:26" json:"id"`
	Topic         string        `gorm:"not null" json:"topic"`
	SchoolContext string        `gorm:"type:text" json:"schoolContext,omitempty"`
	Slides        []LessonSlide `gorm:"foreignKey:LessonID;constraint:OnDelete:CASCADE" json:"slides"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// LessonSlide is one position of a lesson. Payload holds the JSON encoded
// slide once Generated is true.
type LessonSlide struct {
	ID         uint64       `gorm:"primaryKey;autoIncrement" json:"-"`
	LessonID   string       `gorm:"size:26;not null;uniqueIndex:idx_lesson_slide,priority:1" json:"-"`
	SlideIndex int          `gorm:"not null;uniqueIndex:idx_lesson_slide,priority:2" json:"index"`
	Title      string       `gorm:"not null" json:"title"`
	Type       slide.Type   `gorm:"size:16;not null" json:"type"`
	Generated  bool         `gorm:"not null;default:false" json:"generated"`
	Payload    string       `gorm:"type:text" json:"-"`
	Slide      *slide.Slide `gorm:"-" json:"slide,omitempty"`
	CreatedAt  time.Time    `json:"-"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

// AfterFind decodes the payload of generated slides.
func (s *LessonSlide) AfterFind(tx *gorm.DB) error {
	if !s.Generated || s.Payload == "" {
		return nil
	}
	var decoded slide.Slide
	if err := sonic.UnmarshalString(s.Payload, &decoded); err != nil {
		return fmt.Errorf("store: decode slide %s/%d: %w", s.LessonID, s.SlideIndex, err)
	}
	s.Slide = &decoded
	return nil
}

func newLessonSlide(lessonID string, s slide.Slide) (LessonSlide, error) {
	payload, err := sonic.MarshalString(&s)
	if err != nil {
		return LessonSlide{}, fmt.Errorf("store: encode slide: %w", err)
	}
	return LessonSlide{
		LessonID:   lessonID,
		SlideIndex: s.Index,
		Title:      s.Title,
		Type:       s.Type,
		Generated:  true,
		Payload:    payload,
	}, nil
}
