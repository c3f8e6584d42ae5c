package pipeline

import (
	"fmt"
	"path"
	"strings"
)

// KeyFilter selects which stored objects are materialized. Patterns are
// slash separated globs: "*" and "?" match within one segment, "**" as a whole
// segment matches any number of segments, and a trailing "/" matches
// everything below that prefix. Excludes win over includes. An empty filter
// matches every key.
type KeyFilter struct {
	Include []string
	Exclude []string
}

// Match reports whether key passes the filter.
func (f KeyFilter) Match(key string) bool {
	for _, pattern := range f.Exclude {
		if matchPattern(pattern, key) {
			return false
		}
	}

	if len(f.Include) == 0 {
		return true
	}
	for _, pattern := range f.Include {
		if matchPattern(pattern, key) {
			return true
		}
	}
	return false
}

// Validate returns an error naming the first malformed pattern.
func (f KeyFilter) Validate() error {
	for _, list := range [][]string{f.Include, f.Exclude} {
		for i, pattern := range list {
			for _, segment := range strings.Split(strings.TrimSuffix(pattern, "/"), "/") {
				if segment == "**" {
					continue
				}
				if _, err := path.Match(segment, ""); err != nil {
					return &PatternError{Pattern: pattern, Index: i, Err: err}
				}
			}
		}
	}
	return nil
}

// PatternError describes a malformed filter pattern.
type PatternError struct {
	Pattern string
	Index   int
	Err     error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("invalid pattern at index %d '%s': %v", e.Index, e.Pattern, e.Err)
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

func matchPattern(pattern, key string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "/"); ok {
		return key == prefix || strings.HasPrefix(key, prefix+"/")
	}
	return matchSegments(strings.Split(pattern, "/"), strings.Split(key, "/"))
}

func matchSegments(pattern, key []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			rest := pattern[1:]
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchSegments(rest, key[i:]) {
					return true
				}
			}
			return false
		}

		if len(key) == 0 {
			return false
		}
		ok, err := path.Match(pattern[0], key[0])
		if err != nil || !ok {
			return false
		}
		pattern, key = pattern[1:], key[1:]
	}
	return len(key) == 0
}
