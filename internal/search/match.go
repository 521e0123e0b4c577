package search

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// FindAll returns the start offset of every occurrence of pattern in data.
// Matches may overlap: after a match at i the search resumes at i+1.
func FindAll(data, pattern []byte) []int {
	if len(pattern) == 0 {
		return nil
	}
	var starts []int
	offset := 0
	for offset <= len(data)-len(pattern) {
		i := bytes.Index(data[offset:], pattern)
		if i < 0 {
			break
		}
		starts = append(starts, offset+i)
		offset += i + 1
	}
	return starts
}

// ContextWindow returns up to n bytes before start and after end, clipped to
// data, decoded as text. It never fails.
func ContextWindow(data []byte, start, end, n int) string {
	lo := start - n
	if lo < 0 {
		lo = 0
	}
	hi := end + n
	if hi > len(data) {
		hi = len(data)
	}
	return decodeWindow(data[lo:hi], lo > 0, hi < len(data))
}

var replaceIllFormed = runes.ReplaceIllFormed()

// decodeWindow turns window into valid UTF-8. A multi-byte sequence cut by
// the window edge is dropped; any other invalid byte becomes U+FFFD.
// cutStart and cutEnd report whether the window edge fell inside the file.
func decodeWindow(window []byte, cutStart, cutEnd bool) string {
	if cutStart {
		i := 0
		for i < len(window) && i < utf8.UTFMax-1 && !utf8.RuneStart(window[i]) {
			i++
		}
		window = window[i:]
	}
	if cutEnd {
		window = trimPartialTail(window)
	}
	if utf8.Valid(window) {
		return string(window)
	}
	s, _, err := transform.Bytes(replaceIllFormed, window)
	if err != nil {
		return string(bytes.ToValidUTF8(window, []byte("\uFFFD")))
	}
	return string(s)
}

// trimPartialTail drops a trailing lead byte whose continuation bytes were
// cut off.
func trimPartialTail(b []byte) []byte {
	for back := 1; back <= utf8.UTFMax && back <= len(b); back++ {
		i := len(b) - back
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if b[i] >= utf8.RuneSelf && !utf8.FullRune(b[i:]) {
			return b[:i]
		}
		return b
	}
	return b
}
