package scanner

import "unicode/utf8"

// DefaultMaxSourceBytes is the source size limit measured on UTF-8 bytes.
const DefaultMaxSourceBytes = 100 * 1024

// ValidateSource checks that source is non-empty UTF-8 text of at most limit
// bytes. A non-positive limit selects DefaultMaxSourceBytes.
func ValidateSource(source string, limit int) error {
	if limit <= 0 {
		limit = DefaultMaxSourceBytes
	}
	if len(source) == 0 {
		return &ValidationError{Reason: ReasonEmpty, Limit: limit}
	}
	if !utf8.ValidString(source) {
		return &ValidationError{Reason: ReasonWrongType, Size: len(source), Limit: limit}
	}
	// len on a Go string is the encoded byte length, not the rune count.
	if len(source) > limit {
		return &ValidationError{Reason: ReasonTooLarge, Size: len(source), Limit: limit}
	}
	return nil
}

// ValidateInput accepts a decoded request value and returns it as source text.
func ValidateInput(v any, limit int) (string, error) {
	var source string
	switch s := v.(type) {
	case string:
		source = s
	case []byte:
		source = string(s)
	case nil:
		return "", &ValidationError{Reason: ReasonEmpty, Limit: limit}
	default:
		return "", &ValidationError{Reason: ReasonWrongType, Limit: limit}
	}
	if err := ValidateSource(source, limit); err != nil {
		return "", err
	}
	return source, nil
}
