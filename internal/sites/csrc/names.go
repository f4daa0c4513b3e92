package csrc

import "strings"

const maxSuffixLen = 5

// SplitNameSuffix separates a display title from a trailing file suffix such
// as ".pdf". The suffix must be 1-5 ASCII letters or digits with at least one
// letter; anything else leaves the title untouched. A title that is only a
// suffix keeps its full text as the name.
func SplitNameSuffix(title string) (name, suffix string) {
	title = strings.TrimSpace(title)
	i := strings.LastIndex(title, ".")
	if i < 0 {
		return title, ""
	}
	ext := title[i+1:]
	if !validSuffix(ext) {
		return title, ""
	}
	name = title[:i]
	if name == "" {
		name = title
	}
	return name, title[i:]
}

func validSuffix(ext string) bool {
	if ext == "" || len(ext) > maxSuffixLen {
		return false
	}
	letter := false
	for _, r := range ext {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			letter = true
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return letter
}
