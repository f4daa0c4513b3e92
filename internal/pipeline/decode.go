package pipeline

import (
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// ErrUndecodable is returned when no candidate encoding fits the body.
var ErrUndecodable = errors.New("body matches no supported encoding")

// Decode converts a raw page body to text. The declared charset is tried
// first, then utf-8, gbk and gb2312; the first strict success wins. The
// name of the encoding used is returned alongside the text.
func Decode(body []byte, declared string) (string, string, error) {
	declared = strings.ToLower(strings.TrimSpace(declared))
	candidates := []string{"utf-8", "gbk", "gb2312"}
	if declared != "" {
		candidates = append([]string{declared}, candidates...)
	}
	tried := make(map[string]bool, len(candidates))
	for _, name := range candidates {
		if tried[name] {
			continue
		}
		tried[name] = true
		if text, ok := decodeAs(body, name); ok {
			return text, name, nil
		}
	}
	return "", "", ErrUndecodable
}

func decodeAs(body []byte, name string) (string, bool) {
	switch name {
	case "utf-8", "utf8":
		if !utf8.Valid(body) {
			return "", false
		}
		return string(body), true
	case "gbk":
		return strictDecode(body, simplifiedchinese.GBK)
	case "gb2312":
		if !validEUCCN(body) {
			return "", false
		}
		return strictDecode(body, simplifiedchinese.GBK)
	default:
		enc, _ := charset.Lookup(name)
		if enc == nil {
			return "", false
		}
		return strictDecode(body, enc)
	}
}

// strictDecode rejects output containing replacement characters, since
// x/text decoders substitute invalid input instead of failing.
func strictDecode(body []byte, enc encoding.Encoding) (string, bool) {
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil || !utf8.Valid(out) {
		return "", false
	}
	if strings.ContainsRune(string(out), utf8.RuneError) {
		return "", false
	}
	return string(out), true
}

// validEUCCN checks that every multi-byte sequence lies in the GB2312 rows.
func validEUCCN(body []byte) bool {
	for i := 0; i < len(body); i++ {
		b := body[i]
		if b < 0x80 {
			continue
		}
		if b < 0xA1 || b > 0xF7 || i+1 >= len(body) {
			return false
		}
		t := body[i+1]
		if t < 0xA1 || t > 0xFE {
			return false
		}
		i++
	}
	return true
}
