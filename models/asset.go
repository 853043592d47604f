package models

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the content kind an asset belongs to. It drives the object key
// layout and nothing else.
type Kind string

const (
	KindAd    Kind = "ad"
	KindMusic Kind = "music"
	KindVideo Kind = "video"
)

// Kinds lists every supported content kind.
var Kinds = []Kind{KindAd, KindMusic, KindVideo}

// ParseKind validates a wire value.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown media kind %q", s)
}

// Status is the lifecycle state of an asset.
type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusActive     Status = "ACTIVE"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusActive || s == StatusFailed
}

// Valid reports whether s is one of the known wire values.
func (s Status) Valid() bool {
	return s == StatusProcessing || s.Terminal()
}

// MediaAsset is one ad, track or clip tracked through transcoding.
type MediaAsset struct {
	ID               string    `json:"id"`
	Kind             Kind      `json:"kind"`
	Title            string    `json:"title,omitempty"`
	SourceObjectKey  string    `json:"source_object_key,omitempty"`
	OutputObjectKey  string    `json:"output_object_key,omitempty"` // manifest key, set only when ACTIVE
	PreviewObjectKey string    `json:"preview_object_key,omitempty"`
	DurationSeconds  int       `json:"duration_seconds,omitempty"`
	Status           Status    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TranscodeJob describes one pipeline run. It is never persisted; the files
// it points at are removed when the run ends.
type TranscodeJob struct {
	AssetID         string
	LocalSourcePath string
	LocalOutputDir  string
}

// StorageObject identifies a stored object and the content type it was
// written with.
type StorageObject struct {
	Bucket      string
	Key         string
	ContentType string
}

// SignedLink is a time-bounded URL for one object, computed on demand.
type SignedLink struct {
	ObjectKey string    `json:"object_key"`
	ExpiresAt time.Time `json:"expires_at"`
	URL       string    `json:"url"`
}
