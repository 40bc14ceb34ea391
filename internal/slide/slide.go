package slide

import (
	"errors"
	"fmt"
	"strings"
)

type Type string

const (
	TypeContent Type = "content"
	TypeQuiz    Type = "quiz"
	TypeClosing Type = "closing"
)

// OptionsPerQuestion is the fixed number of answers a quiz question offers.
const OptionsPerQuestion = 4

// FallbackTitle marks a slide produced after generation was exhausted.
const FallbackTitle = "Generation Error"

// PlaceholderImageURL is used whenever the image lookup yields nothing.
const PlaceholderImageURL = "https://placehold.co/800x450?text=Imagem+indispon%C3%ADvel"

type Question struct {
	Prompt      string   `json:"q" msgpack:"q"`
	Options     []string `json:"options" msgpack:"options"`
	Correct     int      `json:"correct" msgpack:"correct"`
	Explanation string   `json:"explanation,omitempty" msgpack:"explanation,omitempty"`
}

// Slide is one screen of generated lesson content.
type Slide struct {
	Index         int        `json:"index" msgpack:"index"`
	Title         string     `json:"title" msgpack:"title"`
	Content       string     `json:"content" msgpack:"content"`
	Type          Type       `json:"type" msgpack:"type"`
	ImageQuery    string     `json:"imageQuery,omitempty" msgpack:"image_query,omitempty"`
	ImageURL      string     `json:"imageUrl,omitempty" msgpack:"image_url,omitempty"`
	ImageSource   string     `json:"imageSource,omitempty" msgpack:"image_source,omitempty"`
	Questions     []Question `json:"questions,omitempty" msgpack:"questions,omitempty"`
	TokenEstimate int        `json:"tokenEstimate,omitempty" msgpack:"token_estimate,omitempty"`
	Fallback      bool       `json:"fallback,omitempty" msgpack:"fallback,omitempty"`
}

var (
	errEmptyTitle   = errors.New("title is empty")
	errEmptyContent = errors.New("content is empty")
	errNoQuestions  = errors.New("quiz has no questions")
)

// Validate enforces the minimal shape contract of a renderable slide.
func (s Slide) Validate() error {
	if strings.TrimSpace(s.Title) == "" {
		return errEmptyTitle
	}
	if strings.TrimSpace(s.Content) == "" {
		return errEmptyContent
	}
	if s.Type != TypeQuiz {
		return nil
	}
	if len(s.Questions) == 0 {
		return errNoQuestions
	}
	for i, q := range s.Questions {
		if err := q.validate(); err != nil {
			return fmt.Errorf("question[%d]: %w", i, err)
		}
	}
	return nil
}

func (q Question) validate() error {
	if strings.TrimSpace(q.Prompt) == "" {
		return errors.New("prompt is empty")
	}
	if len(q.Options) != OptionsPerQuestion {
		return fmt.Errorf("expected %d options, got %d", OptionsPerQuestion, len(q.Options))
	}
	for i, opt := range q.Options {
		if strings.TrimSpace(opt) == "" {
			return fmt.Errorf("option[%d] is empty", i)
		}
	}
	if q.Correct < 0 || q.Correct >= OptionsPerQuestion {
		return fmt.Errorf("correct answer %d out of range", q.Correct)
	}
	return nil
}

// Clone returns a copy that shares no slices with s.
func (s Slide) Clone() Slide {
	if s.Questions == nil {
		return s
	}
	qs := make([]Question, len(s.Questions))
	for i, q := range s.Questions {
		q.Options = append([]string(nil), q.Options...)
		qs[i] = q
	}
	s.Questions = qs
	return s
}

// EstimateTokens approximates the token count of generated text.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// Fallback builds the slide served when every generation attempt failed.
// It depends only on the request, so every caller sees the same value.
func Fallback(req GenerationRequest) Slide {
	content := fmt.Sprintf(
		"Não foi possível gerar o slide %d sobre %q neste momento. Tente novamente em instantes.",
		req.SlideIndex, strings.TrimSpace(req.Topic),
	)
	return Slide{
		Index:         req.SlideIndex,
		Title:         FallbackTitle,
		Content:       content,
		Type:          TypeContent,
		ImageURL:      PlaceholderImageURL,
		ImageSource:   "placeholder",
		TokenEstimate: EstimateTokens(content),
		Fallback:      true,
	}
}
