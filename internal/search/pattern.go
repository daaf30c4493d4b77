package search

import (
	"fmt"
	"regexp"
)

// CompiledPattern is the product of compiling one search request's
// pattern. It is ephemeral and owned by the in-flight request (spec
// section 3): nothing keeps it alive past one Search call.
type CompiledPattern struct {
	re  *regexp.Regexp
	src string
}

// Compile compiles pattern as a byte-level regular expression.
// Case-insensitivity is applied as a compiler flag, never by mangling
// the pattern text (spec section 4.4). An invalid pattern is a
// recoverable error (spec section 7), never a panic.
func Compile(pattern string, caseSensitive bool) (*CompiledPattern, error) {
	expr := pattern
	if !caseSensitive {
		expr = "(?i)" + pattern
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return &CompiledPattern{re: re, src: pattern}, nil
}

// String returns the original, uncompiled pattern text, without the
// case-insensitivity flag Compile may have added.
func (p *CompiledPattern) String() string { return p.src }
