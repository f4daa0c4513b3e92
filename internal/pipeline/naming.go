package pipeline

import (
	"strings"
)

const (
	defaultExtension = "file"
	maxExtensionLen  = 5
)

// FileExtension derives the local file extension from an attachment URL:
// the last dotted segment, cut at "?", reduced to ASCII letters and digits.
// Anything empty or longer than five characters becomes "file".
func FileExtension(rawURL string) string {
	segment := rawURL
	if i := strings.LastIndex(rawURL, "."); i >= 0 {
		segment = rawURL[i+1:]
	}
	if i := strings.Index(segment, "?"); i >= 0 {
		segment = segment[:i]
	}
	var b strings.Builder
	for _, r := range segment {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	ext := b.String()
	if ext == "" || len(ext) > maxExtensionLen || !strings.Contains(rawURL, ".") {
		return defaultExtension
	}
	return ext
}

// LocalName joins a unique stem and an extension.
func LocalName(stem, ext string) string {
	return stem + "." + ext
}
