package capture

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/Dannytownkins/Ember-sub000/internal/model"
)

// Limits bound what a submission may contain.
type Limits struct {
	MinChars      int
	MaxChars      int
	MaxImages     int
	MaxImageBytes int64
}

// DefaultLimits match the extraction adapter's defaults.
var DefaultLimits = Limits{MinChars: 50, MaxChars: 100000, MaxImages: 10, MaxImageBytes: 10 << 20}

// Input is a capture submission.
type Input struct {
	InputMethod model.InputMethod `json:"inputMethod"`
	Text        string            `json:"text,omitempty"`
	Images      []model.ImageRef  `json:"images,omitempty"`
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", model.ErrValidation, fmt.Sprintf(format, args...))
}

// Validate checks the submission against l. Exactly one of text or images
// must be present: paste needs text, screenshot needs images, api takes either.
func (l Limits) Validate(in Input) error {
	if !in.InputMethod.Valid() {
		return invalid("unknown input method %q", in.InputMethod)
	}
	text := strings.TrimSpace(in.Text)
	hasText, hasImages := text != "", len(in.Images) > 0
	switch {
	case hasText && hasImages:
		return invalid("provide text or images, not both")
	case !hasText && !hasImages:
		return invalid("capture is empty")
	case in.InputMethod == model.InputPaste && !hasText:
		return invalid("paste captures need text")
	case in.InputMethod == model.InputScreenshot && !hasImages:
		return invalid("screenshot captures need images")
	}

	if hasText {
		n := utf8.RuneCountInString(text)
		if n < l.MinChars {
			return invalid("text must be at least %d characters, got %d", l.MinChars, n)
		}
		if l.MaxChars > 0 && n > l.MaxChars {
			return invalid("text must be at most %d characters, got %d", l.MaxChars, n)
		}
		return nil
	}

	if l.MaxImages > 0 && len(in.Images) > l.MaxImages {
		return invalid("at most %d images per capture, got %d", l.MaxImages, len(in.Images))
	}
	for i, img := range in.Images {
		u, err := url.Parse(img.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return invalid("images[%d]: url must be an absolute http(s) url", i)
		}
		if !strings.HasPrefix(img.ContentType, "image/") {
			return invalid("images[%d]: content type %q is not an image", i, img.ContentType)
		}
		if img.SizeBytes <= 0 {
			return invalid("images[%d]: size must be positive", i)
		}
		if l.MaxImageBytes > 0 && img.SizeBytes > l.MaxImageBytes {
			return invalid("images[%d]: %d bytes exceeds limit of %d", i, img.SizeBytes, l.MaxImageBytes)
		}
	}
	return nil
}
