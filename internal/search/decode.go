package search

import (
	"strings"
	"unicode/utf8"
)

// decodeLine converts raw line bytes to a string, replacing invalid UTF-8
// with the Unicode replacement character one byte at a time: every byte
// that does not start a valid sequence becomes one U+FFFD. For stray
// bytes this agrees with Python's bytes.decode("utf-8",
// errors="replace"); for a truncated multi-byte sequence Python emits a
// single U+FFFD where this emits one per byte. Decoding never fails
// (spec section 8, invariant 6): every input byte sequence produces a
// string.
func decodeLine(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		sb.WriteRune(r)
		b = b[size:]
	}
	return sb.String()
}

// stripLineEnding removes a single trailing \r left over after splitting
// on \n (spec section 3: "line text with trailing CR/LF stripped").
func stripLineEnding(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\r' {
		return b[:n-1]
	}
	return b
}
