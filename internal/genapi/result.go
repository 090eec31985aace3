package genapi

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownKind is returned when a result carries an unrecognised kind.
var ErrUnknownKind = errors.New("unknown result kind")

// Result is the payload of a completed job. The concrete type is selected by
// the "kind" discriminator; match it with a type switch:
//
//	switch r := res.(type) {
//	case *ThumbnailResult:
//	case *SmartMergeResult:
//	case *EnhanceResult:
//	}
type Result interface {
	Kind() JobKind
	// Primary returns the URL of the main produced asset.
	Primary() string
	sealed()
}

// ThumbnailResult is produced by thumbnail jobs.
type ThumbnailResult struct {
	ImageURL string `json:"imageUrl"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Prompt   string `json:"prompt,omitempty"`
}

func (*ThumbnailResult) Kind() JobKind { return KindThumbnail }
func (r *ThumbnailResult) Primary() string { return r.ImageURL }
func (*ThumbnailResult) sealed() {}

// SmartMergeResult is produced by smart-merge jobs combining several images.
type SmartMergeResult struct {
	ImageURL   string   `json:"imageUrl"`
	SourceURLs []string `json:"sourceUrls"`
	Layout     string   `json:"layout,omitempty"`
}

func (*SmartMergeResult) Kind() JobKind { return KindSmartMerge }
func (r *SmartMergeResult) Primary() string { return r.ImageURL }
func (*SmartMergeResult) sealed() {}

// EnhanceResult is produced by upscale/enhance jobs.
type EnhanceResult struct {
	ImageURL string `json:"imageUrl"`
	Scale    int    `json:"scale"`
}

func (*EnhanceResult) Kind() JobKind { return KindEnhance }
func (r *EnhanceResult) Primary() string { return r.ImageURL }
func (*EnhanceResult) sealed() {}

// DecodeResult parses a tagged result payload.
func DecodeResult(raw json.RawMessage) (Result, error) {
	var head struct {
		Kind JobKind `json:"kind"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decoding result kind: %w", err)
	}

	var res Result
	switch head.Kind {
	case KindThumbnail:
		res = &ThumbnailResult{}
	case KindSmartMerge:
		res = &SmartMergeResult{}
	case KindEnhance:
		res = &EnhanceResult{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, head.Kind)
	}

	if err := json.Unmarshal(raw, res); err != nil {
		return nil, fmt.Errorf("decoding %s result: %w", head.Kind, err)
	}
	return res, nil
}

// EncodeResult marshals res with its kind discriminator.
func EncodeResult(res Result) (json.RawMessage, error) {
	body, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	kind, _ := json.Marshal(res.Kind())
	fields["kind"] = kind
	return json.Marshal(fields)
}
