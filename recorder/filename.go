package recorder

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// reserved lists characters that are unsafe in file names on at least one supported platform.
const reserved = "\\/:*?\"<>|\n\r\x00"

// SanitizeFilename removes every reserved character from s. It is idempotent.
func SanitizeFilename(s string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(reserved, r) {
			return -1
		}
		return r
	}, s)
}

const (
	// maxNameBytes is NAME_MAX on common Linux and macOS filesystems.
	maxNameBytes = 255
	videoExt     = ".mp4"
	chatExt      = ".chat.jsonl"
)

// BuildFilename returns "{login} - {stream id} - {unix seconds} - {title}.mp4" with
// each part trimmed and reserved characters stripped. The title is cut on a rune
// boundary so that the name with either extension fits in maxNameBytes.
func BuildFilename(login, streamID string, now time.Time, title string) string {
	prefix := SanitizeFilename(fmt.Sprintf("%s - %s - %d - ",
		strings.TrimSpace(login), strings.TrimSpace(streamID), now.Unix()))
	title = truncateBytes(SanitizeFilename(strings.TrimSpace(title)), maxNameBytes-len(prefix)-len(chatExt))
	return prefix + title + videoExt
}

// truncateBytes returns the longest prefix of s of at most n bytes that ends on
// a rune boundary, with trailing spaces removed.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimRightFunc(s[:cut], unicode.IsSpace)
}
