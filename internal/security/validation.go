package security

import (
	"errors"
	"fmt"
	"io"
)

// Default gateway payload limits. A decision is a small object; the
// largest legitimate body is an edit carrying a rewritten report.
const (
	DefaultMaxPayloadBytes = 1 << 20
	DefaultMaxJSONDepth    = 32
)

// Payload errors.
var (
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")
	ErrJSONTooDeep     = errors.New("JSON nesting exceeds maximum depth")
)

// PayloadLimits bounds what a client may send the gateway: decision and
// task bodies on the REST API and frames on the review stream. Zero fields
// take the defaults.
type PayloadLimits struct {
	MaxBytes int
	MaxDepth int
}

// Bytes returns the effective size limit.
func (l PayloadLimits) Bytes() int {
	if l.MaxBytes > 0 {
		return l.MaxBytes
	}
	return DefaultMaxPayloadBytes
}

func (l PayloadLimits) depth() int {
	if l.MaxDepth > 0 {
		return l.MaxDepth
	}
	return DefaultMaxJSONDepth
}

// Read reads r up to one byte past the size limit and checks the result.
func (l PayloadLimits) Read(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, int64(l.Bytes())+1))
	if err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}
	return data, l.Check(data)
}

// Check rejects data over the size limit or nested deeper than the depth
// limit. Well-formedness is left to the decoder that follows.
func (l PayloadLimits) Check(data []byte) error {
	if len(data) > l.Bytes() {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(data), l.Bytes())
	}
	if exceedsDepth(data, l.depth()) {
		return fmt.Errorf("%w (max %d)", ErrJSONTooDeep, l.depth())
	}
	return nil
}

// exceedsDepth scans data for object and array openings outside string
// literals and stops at the first one past limit.
func exceedsDepth(data []byte, limit int) bool {
	depth := 0
	inString, escaped := false, false
	for _, c := range data {
		switch {
		case escaped:
			escaped = false
		case inString:
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
		case c == '"':
			inString = true
		case c == '{' || c == '[':
			depth++
			if depth > limit {
				return true
			}
		case c == '}' || c == ']':
			depth--
		}
	}
	return false
}
