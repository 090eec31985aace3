package render

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/thumbforge/internal/genapi"
)

const enhanceScale = 2

// PlaceholderRenderer renders nothing. It returns deterministic asset URLs
// under BaseURL so identical requests yield identical results.
type PlaceholderRenderer struct {
	BaseURL string
}

func (p PlaceholderRenderer) Render(_ context.Context, req genapi.StartRequest) (genapi.Result, error) {
	key, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	asset := fmt.Sprintf("%s/%s/%s.png", strings.TrimRight(p.BaseURL, "/"), req.Kind, uuid.NewSHA1(uuid.NameSpaceURL, key))

	switch req.Kind {
	case genapi.KindThumbnail:
		w, h, _ := Dimensions(req.AspectRatio)
		return &genapi.ThumbnailResult{ImageURL: asset, Width: w, Height: h, Prompt: req.Prompt}, nil
	case genapi.KindSmartMerge:
		return &genapi.SmartMergeResult{ImageURL: asset, SourceURLs: nonEmpty(req.ImageURLs), Layout: mergeLayout(len(nonEmpty(req.ImageURLs)))}, nil
	case genapi.KindEnhance:
		return &genapi.EnhanceResult{ImageURL: asset, Scale: enhanceScale}, nil
	}
	return nil, fmt.Errorf("%w: %q", genapi.ErrUnknownKind, req.Kind)
}

func mergeLayout(n int) string {
	switch n {
	case 2:
		return "split"
	case 3:
		return "triptych"
	}
	return "grid"
}
