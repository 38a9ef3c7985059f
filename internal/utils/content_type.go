package utils

import (
	"mime"
	"net/http"
	"strings"
)

func GetFileExtensionFromContentType(contentType string) string {
	contentType = strings.ToLower(contentType)

	switch {
	case strings.Contains(contentType, "jpeg") || strings.Contains(contentType, "jpg"):
		return "jpg"
	case strings.Contains(contentType, "png"):
		return "png"
	case strings.Contains(contentType, "svg"):
		return "svg"
	case strings.Contains(contentType, "gif"):
		return "gif"
	case strings.Contains(contentType, "webp"):
		return "webp"
	case strings.Contains(contentType, "tiff") || strings.Contains(contentType, "tif"):
		return "tiff"
	case strings.Contains(contentType, "bmp"):
		return "bmp"
	case strings.Contains(contentType, "heif") || strings.Contains(contentType, "heic"):
		return "heic"
	case strings.Contains(contentType, "avif"):
		return "avif"
	default:
		return "bin"
	}
}

// NormalizeContentType strips parameters and lowercases the media type.
func NormalizeContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	return mediaType
}

func IsImageContentType(contentType string) bool {
	return strings.HasPrefix(NormalizeContentType(contentType), "image/")
}

// DetectImageContentType trusts a declared image type, otherwise sniffs the bytes.
// Returns "" when the content is not an image.
func DetectImageContentType(declared string, data []byte) string {
	if IsImageContentType(declared) {
		return NormalizeContentType(declared)
	}
	sniffed := NormalizeContentType(http.DetectContentType(data))
	if IsImageContentType(sniffed) {
		return sniffed
	}
	return ""
}
