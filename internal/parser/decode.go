package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"slidegate/internal/slide"
)

// answerIndex accepts the correct-answer marker as 0..3 or as a letter a-d.
// Anything else decodes to -1 and fails validation later.
type answerIndex int

func (a *answerIndex) UnmarshalJSON(b []byte) error {
	*a = -1
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		if n == float64(int(n)) {
			*a = answerIndex(int(n))
		}
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return nil
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) == 1 && s[0] >= 'a' && s[0] <= 'd' {
		*a = answerIndex(s[0] - 'a')
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		*a = answerIndex(n)
	}
	return nil
}

type rawQuestion struct {
	Q           string       `json:"q"`
	Question    string       `json:"question"`
	Options     []string     `json:"options"`
	Correct     *answerIndex `json:"correct"`
	Explanation string       `json:"explanation"`
}

type rawSlide struct {
	Number     any               `json:"number"`
	Title      string            `json:"title"`
	Content    string            `json:"content"`
	Type       string            `json:"type"`
	ImageQuery string            `json:"imageQuery"`
	Questions  []rawQuestion     `json:"questions"`
	Slides     []json.RawMessage `json:"slides"`
}

// decodeCandidate decodes text as a slide and applies the shape contract.
// Later passes forgive trailing commas, then raw control bytes and stray
// backslashes inside strings.
func decodeCandidate(text string) (slide.Slide, error) {
	s, err := decodeSlide([]byte(text))
	if err == nil {
		return s, nil
	}
	stripped := stripTrailingCommas(text)
	if stripped != text {
		if s, err2 := decodeSlide([]byte(stripped)); err2 == nil {
			return s, nil
		}
	}
	if repaired := repairStrings(stripped); repaired != stripped {
		if s, err2 := decodeSlide([]byte(repaired)); err2 == nil {
			return s, nil
		}
	}
	return slide.Slide{}, err
}

func decodeSlide(b []byte) (slide.Slide, error) {
	var raw rawSlide
	if err := strictUnmarshal(b, &raw); err != nil {
		return slide.Slide{}, err
	}

	// whole-lesson envelope: take the first slide
	if raw.Title == "" && len(raw.Slides) > 0 {
		first := raw.Slides[0]
		raw = rawSlide{}
		if err := strictUnmarshal(first, &raw); err != nil {
			return slide.Slide{}, fmt.Errorf("slides[0]: %w", err)
		}
	}

	s := raw.toSlide()
	if err := s.Validate(); err != nil {
		return slide.Slide{}, err
	}
	return s, nil
}

var errTrailingData = errors.New("unexpected data after top-level value")

// strictUnmarshal rejects input with anything but whitespace after the value.
func strictUnmarshal(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errTrailingData
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); err == nil {
		return errTrailingData
	}
	return nil
}

func (r rawSlide) toSlide() slide.Slide {
	s := slide.Slide{
		Index:      parseNumber(r.Number),
		Title:      strings.TrimSpace(r.Title),
		Content:    strings.TrimSpace(r.Content),
		ImageQuery: strings.TrimSpace(r.ImageQuery),
	}
	for _, q := range r.Questions {
		prompt := q.Q
		if prompt == "" {
			prompt = q.Question
		}
		correct := -1
		if q.Correct != nil {
			correct = int(*q.Correct)
		}
		s.Questions = append(s.Questions, slide.Question{
			Prompt:      strings.TrimSpace(prompt),
			Options:     q.Options,
			Correct:     correct,
			Explanation: strings.TrimSpace(q.Explanation),
		})
	}
	s.Type = normalizeType(r.Type, len(s.Questions) > 0)
	s.TokenEstimate = slide.EstimateTokens(s.Content)
	return s
}

func parseNumber(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(strings.TrimSpace(n))
		return i
	}
	return 0
}

func normalizeType(t string, hasQuestions bool) slide.Type {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "quiz", "question", "questions":
		return slide.TypeQuiz
	case "closing", "conclusion", "encerramento":
		return slide.TypeClosing
	}
	if hasQuestions {
		return slide.TypeQuiz
	}
	return slide.TypeContent
}
