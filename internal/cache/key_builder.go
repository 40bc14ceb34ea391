package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"slidegate/internal/slide"
)

// ErrEmptyKey is returned for a request that carries no identity.
var ErrEmptyKey = errors.New("cache: empty slide key")

// SlideKey identifies one slide request. Hash is sha256 over the normalized
// request fields.
type SlideKey struct {
	LessonID string
	Index    int
	Hash     string
}

// String renders the key used in the coordinator map and the shared tier:
// slide:<LESSON_ID or ->:<INDEX>:<HASH_HEX>
func (k SlideKey) String() string {
	lesson := k.LessonID
	if lesson == "" {
		lesson = "-"
	}
	return fmt.Sprintf("slide:%s:%d:%s", lesson, k.Index, k.Hash)
}

// LessonPrefix is the common prefix of every key stored for lessonID.
func LessonPrefix(lessonID string) string {
	return "slide:" + lessonID + ":"
}

// BuildSlideKey normalizes req and hashes it. Each field is length-prefixed
// so that no two distinct field tuples hash the same input.
func BuildSlideKey(req slide.GenerationRequest) (SlideKey, error) {
	req = req.Normalized()
	if req.Topic == "" {
		return SlideKey{}, ErrEmptyKey
	}

	h := sha256.New()
	var lenBuf [binary.MaxVarintLen64]byte
	for _, field := range []string{
		req.Topic,
		strconv.Itoa(req.SlideIndex),
		req.LessonID,
		req.SchoolContext,
		req.CustomInstructions,
	} {
		n := binary.PutUvarint(lenBuf[:], uint64(len(field)))
		h.Write(lenBuf[:n])
		h.Write([]byte(field))
	}

	return SlideKey{
		LessonID: req.LessonID,
		Index:    req.SlideIndex,
		Hash:     hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// parseSlideKey splits a rendered key back into its parts for log fields.
func parseSlideKey(key string) (SlideKey, bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 4 || parts[0] != "slide" {
		return SlideKey{}, false
	}
	idx, err := strconv.Atoi(parts[2])
	if err != nil {
		return SlideKey{}, false
	}
	lesson := parts[1]
	if lesson == "-" {
		lesson = ""
	}
	return SlideKey{LessonID: lesson, Index: idx, Hash: parts[3]}, true
}
