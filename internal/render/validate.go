package render

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/thumbforge/internal/genapi"
)

const (
	maxPromptLen    = 1000
	maxMergeSources = 6
)

// ValidationError is a job the backend refuses to render. It ends the job
// in FAILED without retrying, with Code and Suggestion surfaced to the client.
type ValidationError struct {
	Code       string
	Message    string
	Suggestion string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Dimensions returns the output size for an aspect ratio. ok is false for
// unsupported ratios. The empty ratio means 16:9.
func Dimensions(aspectRatio string) (width, height int, ok bool) {
	switch aspectRatio {
	case "", "16:9":
		return 1280, 720, true
	case "9:16":
		return 720, 1280, true
	case "1:1":
		return 1024, 1024, true
	case "4:3":
		return 1024, 768, true
	}
	return 0, 0, false
}

// Validate checks req against the per-kind input rules.
func Validate(req genapi.StartRequest) error {
	if _, _, ok := Dimensions(req.AspectRatio); !ok {
		return &ValidationError{
			Code:       "unsupported_aspect_ratio",
			Message:    fmt.Sprintf("aspect ratio %q is not supported", req.AspectRatio),
			Suggestion: "Use 16:9, 9:16, 1:1 or 4:3.",
		}
	}

	switch req.Kind {
	case genapi.KindThumbnail:
		prompt := strings.TrimSpace(req.Prompt)
		if prompt == "" {
			return &ValidationError{
				Code:       "empty_prompt",
				Message:    "prompt is empty",
				Suggestion: "Describe what the thumbnail should show.",
			}
		}
		if utf8.RuneCountInString(prompt) > maxPromptLen {
			return &ValidationError{
				Code:       "prompt_too_long",
				Message:    fmt.Sprintf("prompt exceeds %d characters", maxPromptLen),
				Suggestion: "Shorten the prompt to its key subject and style.",
			}
		}
	case genapi.KindSmartMerge:
		if n := len(nonEmpty(req.ImageURLs)); n < 2 {
			return &ValidationError{
				Code:       "not_enough_images",
				Message:    fmt.Sprintf("smart merge needs at least 2 images, got %d", n),
				Suggestion: "Add another image to merge.",
			}
		} else if n > maxMergeSources {
			return &ValidationError{
				Code:       "too_many_images",
				Message:    fmt.Sprintf("smart merge takes at most %d images, got %d", maxMergeSources, n),
				Suggestion: fmt.Sprintf("Pick the %d most important images.", maxMergeSources),
			}
		}
	case genapi.KindEnhance:
		if len(nonEmpty(req.ImageURLs)) != 1 {
			return &ValidationError{
				Code:       "missing_image",
				Message:    "enhance needs exactly one image",
				Suggestion: "Pass the image to enhance.",
			}
		}
	default:
		return &ValidationError{Code: "unknown_kind", Message: fmt.Sprintf("unknown job kind %q", req.Kind)}
	}
	return nil
}

func nonEmpty(ss []string) []string {
	out := ss[:0:0]
	for _, s := range ss {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
