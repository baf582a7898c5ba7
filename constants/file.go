package constants

import "strings"

// AllowedExtensions holds the default allowed file extensions for proof images.
var AllowedExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"webp": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

const (
	// DefaultCompressThreshold is the size above which a proof is re-encoded before upload.
	DefaultCompressThreshold = 1536 * 1024
	// DefaultMaxImageDimension bounds the longest side of a compressed proof.
	DefaultMaxImageDimension = 2048
	// DefaultJPEGQuality is used when re-encoding proofs.
	DefaultJPEGQuality = 80
)

// DateLayout is the only accepted calendar date format (YYYY-MM-DD).
const DateLayout = "2006-01-02"

// ContentTypeForExt maps a normalized proof extension to its MIME type.
func ContentTypeForExt(ext string) string {
	switch NormalizeExt(ext) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	}
	return "application/octet-stream"
}
