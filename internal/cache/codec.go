package cache

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"slidegate/internal/slide"
)

// EncodeSlide serializes s for the shared tier.
func EncodeSlide(s slide.Slide) ([]byte, error) {
	b, err := msgpack.Marshal(&s)
	if err != nil {
		return nil, fmt.Errorf("cache: encode slide: %w", err)
	}
	return b, nil
}

// DecodeSlide is the inverse of EncodeSlide. A payload that decodes into a
// slide violating the shape contract is rejected.
func DecodeSlide(b []byte) (slide.Slide, error) {
	var s slide.Slide
	if err := msgpack.Unmarshal(b, &s); err != nil {
		return slide.Slide{}, fmt.Errorf("cache: decode slide: %w", err)
	}
	if err := s.Validate(); err != nil {
		return slide.Slide{}, fmt.Errorf("cache: decode slide: %w", err)
	}
	return s, nil
}
