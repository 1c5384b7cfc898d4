package constants

import "strings"

// MIME types the pipeline is able to send to the remote services.
const (
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
)

// AllowedExtensions maps the accepted image extensions (normalized) to their MIME type.
// The MIME type is chosen from the extension alone; file content is never sniffed.
var AllowedExtensions = map[string]string{
	"jpg":  MIMEJPEG,
	"jpeg": MIMEJPEG,
	"png":  MIMEPNG,
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MIMETypeForExt returns the MIME type for an extension (with or without the dot).
func MIMETypeForExt(ext string) (string, bool) {
	mt, ok := AllowedExtensions[NormalizeExt(ext)]
	return mt, ok
}
