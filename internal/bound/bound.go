// Package bound enforces the two payload caps: per-field truncation for
// text that is broadcast to clients, and a streaming size cap for inbound
// HTTP bodies.
package bound

import (
	"errors"
	"io"
)

const (
	// MaxFieldBytes caps individual textual event fields (input, output,
	// content, workingDirectory).
	MaxFieldBytes = 10 * 1024

	// MaxBodyBytes caps inbound HTTP request bodies.
	MaxBodyBytes = 5 * 1024 * 1024

	// TruncationMarker is appended to truncated fields.
	TruncationMarker = "\n... [truncated]"
)

// ErrBodyTooLarge is returned by ReadAll when the body exceeds MaxBodyBytes.
var ErrBodyTooLarge = errors.New("bound: request body exceeds size limit")

// TruncateField returns s capped at MaxFieldBytes with a visible marker.
// Strings at or under the cap pass through untouched.
func TruncateField(s string) string {
	if len(s) <= MaxFieldBytes {
		return s
	}
	return s[:MaxFieldBytes] + TruncationMarker
}

// ReadAll reads r to completion, failing fast with ErrBodyTooLarge once the
// running byte count crosses MaxBodyBytes. At most MaxBodyBytes+1 bytes are
// ever buffered; the caller is expected to abort the request on error.
func ReadAll(r io.Reader) ([]byte, error) {
	limited := io.LimitReader(r, MaxBodyBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if len(data) > MaxBodyBytes {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}
