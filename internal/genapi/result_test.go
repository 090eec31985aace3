package genapi

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeResult_Kinds(t *testing.T) {
	tests := []struct {
		raw  string
		kind JobKind
		url  string
	}{
		{`{"kind":"thumbnail","imageUrl":"a.png","width":1,"height":2}`, KindThumbnail, "a.png"},
		{`{"kind":"smart_merge","imageUrl":"m.png","sourceUrls":["1","2"],"layout":"split"}`, KindSmartMerge, "m.png"},
		{`{"kind":"enhance","imageUrl":"e.png","scale":2}`, KindEnhance, "e.png"},
	}

	for _, tt := range tests {
		res, err := DecodeResult(json.RawMessage(tt.raw))
		if err != nil {
			t.Fatalf("DecodeResult(%s): %v", tt.raw, err)
		}
		if res.Kind() != tt.kind {
			t.Errorf("Kind() = %q, want %q", res.Kind(), tt.kind)
		}
		if res.Primary() != tt.url {
			t.Errorf("Primary() = %q, want %q", res.Primary(), tt.url)
		}
	}
}

func TestDecodeResult_UnknownKind(t *testing.T) {
	_, err := DecodeResult(json.RawMessage(`{"kind":"video"}`))
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("err = %v, want ErrUnknownKind", err)
	}
}

func TestEncodeResult_CarriesKind(t *testing.T) {
	raw, err := EncodeResult(&SmartMergeResult{ImageURL: "m.png", SourceURLs: []string{"a", "b"}})
	if err != nil {
		t.Fatalf("EncodeResult: %v", err)
	}
	res, err := DecodeResult(raw)
	if err != nil {
		t.Fatalf("DecodeResult: %v", err)
	}
	merge, ok := res.(*SmartMergeResult)
	if !ok {
		t.Fatalf("type = %T", res)
	}
	if len(merge.SourceURLs) != 2 {
		t.Errorf("SourceURLs = %v", merge.SourceURLs)
	}
}

func TestStatusCode_Rank(t *testing.T) {
	if StatusQueued.Rank() >= StatusGenerating.Rank() {
		t.Error("QUEUED should rank before GENERATING")
	}
	if StatusCode("BOGUS").Rank() != -1 {
		t.Error("unknown status should rank -1")
	}
	if !StatusFailed.Terminal() || !StatusComplete.Terminal() || StatusUploading.Terminal() {
		t.Error("Terminal() mismatch")
	}
}
