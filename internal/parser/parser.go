// Package parser turns raw generator output into a valid slide.Slide,
// recovering from truncation and the structural slips chat models make.
package parser

import (
	"errors"
	"fmt"
	"strings"

	"slidegate/internal/slide"
)

// ErrParseFailure is returned when no strategy produced a valid slide.
var ErrParseFailure = errors.New("parse failure")

var (
	errNoObject   = errors.New("no object found")
	errComplete   = errors.New("structure already balanced")
	errUnbalanced = errors.New("structure never balances")
	errMismatched = errors.New("mismatched closing token")
)

// maxExtractAttempts caps how many opening braces extractObject inspects.
const maxExtractAttempts = 64

// maxCutBacks caps how many comma cut points closeStructure tries.
const maxCutBacks = 32

// Strategy is one named recovery attempt. Attempt must be pure.
type Strategy struct {
	Name    string
	Attempt func(text string) (slide.Slide, error)
}

// Chain is an ordered list of strategies; the first success wins.
type Chain []Strategy

// Strategies returns the default recovery chain.
func Strategies() Chain {
	return Chain{
		{Name: "strict", Attempt: strict},
		{Name: "balanced-prefix", Attempt: balancedPrefix},
		{Name: "close-structure", Attempt: closeStructure},
		{Name: "extract-object", Attempt: extractObject},
	}
}

var defaultChain = Strategies()

// Parse runs the default chain over raw.
func Parse(raw string) (slide.Slide, error) {
	s, _, err := defaultChain.Parse(raw)
	return s, err
}

// Parse returns the recovered slide and the name of the strategy that
// produced it.
func (c Chain) Parse(raw string) (slide.Slide, string, error) {
	text := normalize(raw)
	if text == "" {
		return slide.Slide{}, "", fmt.Errorf("%w: empty output", ErrParseFailure)
	}

	var errs []string
	for _, st := range c {
		s, err := st.Attempt(text)
		if err == nil {
			return s, st.Name, nil
		}
		errs = append(errs, st.Name+": "+err.Error())
	}
	return slide.Slide{}, "", fmt.Errorf("%w: %s", ErrParseFailure, strings.Join(errs, "; "))
}

func strict(text string) (slide.Slide, error) {
	return decodeCandidate(text)
}

// balancedPrefix keeps the text from the first '{' up to where nesting
// first returns to zero, dropping any trailing chatter or a cut-off second
// object.
func balancedPrefix(text string) (slide.Slide, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return slide.Slide{}, errNoObject
	}
	body := text[start:]
	st := scanJSON(body)
	switch {
	case st.mismatch:
		return slide.Slide{}, errMismatched
	case st.end < 0:
		return slide.Slide{}, errUnbalanced
	}
	return decodeCandidate(body[:st.end])
}

// closeStructure completes a text that stops mid-value: it closes an open
// string, drops a dangling separator and appends the owed closers. When that
// does not decode it cuts back comma by comma, newest first, and closes from
// there, so a broken trailing element is dropped.
func closeStructure(text string) (slide.Slide, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return slide.Slide{}, errNoObject
	}
	body := text[start:]
	st := scanJSON(body)
	switch {
	case st.mismatch:
		return slide.Slide{}, errMismatched
	case st.end >= 0:
		return slide.Slide{}, errComplete
	}

	completed := body
	if st.inString {
		if st.escaped {
			completed = completed[:len(completed)-1]
		}
		completed += `"`
	}
	completed = trimDangling(completed) + closers(st.stack)

	s, err := decodeCandidate(completed)
	if err == nil {
		return s, nil
	}

	for i, tried := len(st.cuts)-1, 0; i >= 0 && tried < maxCutBacks; i, tried = i-1, tried+1 {
		cut := st.cuts[i]
		if s, cutErr := decodeCandidate(body[:cut.at] + cut.closers); cutErr == nil {
			return s, nil
		}
	}
	return slide.Slide{}, err
}

func trimDangling(s string) string {
	s = strings.TrimRight(s, " \n\r\t")
	switch {
	case strings.HasSuffix(s, ","):
		return strings.TrimRight(s[:len(s)-1], " \n\r\t")
	case strings.HasSuffix(s, ":"):
		return s + "null"
	}
	return s
}

// extractObject tries every '{' in turn and keeps the first complete object
// that decodes to a valid slide.
func extractObject(text string) (slide.Slide, error) {
	lastErr := errNoObject
	tries := 0
	for i := 0; i < len(text) && tries < maxExtractAttempts; i++ {
		if text[i] != '{' {
			continue
		}
		tries++
		st := scanJSON(text[i:])
		if st.mismatch || st.end < 0 {
			continue
		}
		s, err := decodeCandidate(text[i : i+st.end])
		if err == nil {
			return s, nil
		}
		lastErr = err
	}
	return slide.Slide{}, lastErr
}
