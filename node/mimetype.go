package node

import (
	"mime"
	"path/filepath"
	"strings"
)

// MimeType derives the mimetypeVirtual column's value from a node name.
// It is deliberately a pure function of name so nodecache can register it
// as a SQLite scalar function and recompute it on every read instead of
// ever trusting a wire-provided mimetype (invariant e).
func MimeType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return "application/octet-stream"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if i := strings.IndexByte(t, ';'); i >= 0 {
			t = t[:i]
		}
		return strings.TrimSpace(t)
	}
	if t, ok := extraMimeTypes[ext]; ok {
		return t
	}
	return "application/octet-stream"
}

// extraMimeTypes covers common extensions the host mime package's table
// may not carry in a minimal build, mirroring the narrow fallback table
// the original client keeps for its "category" based filters (doc/image/
// audio/video/archive) used by NodeSearchFilter's mime-category matching.
var extraMimeTypes = map[string]string{
	".mp4":  "video/mp4",
	".mkv":  "video/x-matroska",
	".mov":  "video/quicktime",
	".mp3":  "audio/mpeg",
	".flac": "audio/flac",
	".heic": "image/heic",
	".webp": "image/webp",
	".zip":  "application/zip",
	".rar":  "application/vnd.rar",
	".pdf":  "application/pdf",
	".md":   "text/markdown",
}

// MimeCategory buckets a mimetype into the coarse categories
// NodeSearchFilter filters by (image/audio/video/document/archive/other).
func MimeCategory(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	case mimeType == "application/pdf", strings.HasPrefix(mimeType, "text/"),
		strings.Contains(mimeType, "document"), strings.Contains(mimeType, "spreadsheet"),
		strings.Contains(mimeType, "presentation"):
		return "document"
	case strings.Contains(mimeType, "zip"), strings.Contains(mimeType, "rar"),
		strings.Contains(mimeType, "tar"), strings.Contains(mimeType, "7z"):
		return "archive"
	default:
		return "other"
	}
}
