package storage

import (
	"mime"
	"path"
	"strings"
)

// DefaultContentType is used when the extension says nothing.
const DefaultContentType = "application/octet-stream"

// Streaming extensions are pinned; system mime tables disagree on them.
var streamingTypes = map[string]string{
	".m3u8": "application/vnd.apple.mpegurl",
	".m3u":  "audio/mpegurl",
	".ts":   "video/mp2t",
	".m4s":  "video/iso.segment",
	".aac":  "audio/aac",
	".mp4":  "video/mp4",
	".vtt":  "text/vtt",
}

// ContentTypeFor infers a content type from the file name.
func ContentTypeFor(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		return DefaultContentType
	}
	if ct, ok := streamingTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return DefaultContentType
}
