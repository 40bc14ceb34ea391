package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"slidegate/internal/slide"
)

var ErrLessonNotFound = errors.New("store: lesson not found")

// LessonStore persists lessons and their slides.
type LessonStore struct {
	db *gorm.DB
}

func NewLessonStore(db *gorm.DB) *LessonStore {
	return &LessonStore{db: db}
}

// Migrate creates or updates the lesson tables.
func (s *LessonStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&Lesson{}, &LessonSlide{}); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// CreateLesson stores a new lesson with the outline placeholders.
func (s *LessonStore) CreateLesson(ctx context.Context, topic, schoolContext string) (*Lesson, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, &slide.ValidationError{Field: "topic", Reason: "is required"}
	}

	lesson := &Lesson{
		ID:            ulid.Make().String(),
		Topic:         topic,
		SchoolContext: strings.TrimSpace(schoolContext),
	}
	for _, p := range slide.Skeleton() {
		lesson.Slides = append(lesson.Slides, LessonSlide{
			SlideIndex: p.Index,
			Title:      p.Title,
			Type:       p.Type,
		})
	}

	if err := s.db.WithContext(ctx).Create(lesson).Error; err != nil {
		return nil, fmt.Errorf("store: create lesson: %w", err)
	}
	return lesson, nil
}

// GetLesson returns the lesson with its slides ordered by index.
func (s *LessonStore) GetLesson(ctx context.Context, id string) (*Lesson, error) {
	var lesson Lesson
	err := s.db.WithContext(ctx).
		Preload("Slides", func(db *gorm.DB) *gorm.DB {
			return db.Order("slide_index ASC")
		}).
		First(&lesson, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLessonNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get lesson: %w", err)
	}
	return &lesson, nil
}

// UpsertSlide records a generated slide, replacing whatever occupied its
// position before.
func (s *LessonStore) UpsertSlide(ctx context.Context, lessonID string, slideIndex int, sl slide.Slide) error {
	sl.Index = slideIndex
	row, err := newLessonSlide(lessonID, sl)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&Lesson{}).Where("id = ?", lessonID).Count(&n).Error; err != nil {
			return fmt.Errorf("store: upsert slide: %w", err)
		}
		if n == 0 {
			return ErrLessonNotFound
		}

		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "lesson_id"}, {Name: "slide_index"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "type", "generated", "payload", "updated_at"}),
		}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("store: upsert slide: %w", err)
		}
		return nil
	})
}

// DeleteLesson removes the lesson and every slide stored for it.
func (s *LessonStore) DeleteLesson(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("lesson_id = ?", id).Delete(&LessonSlide{}).Error; err != nil {
			return fmt.Errorf("store: delete slides: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&Lesson{})
		if res.Error != nil {
			return fmt.Errorf("store: delete lesson: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrLessonNotFound
		}
		return nil
	})
}
