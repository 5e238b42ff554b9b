package scanner

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSource(t *testing.T) {
	cases := []struct {
		name   string
		source string
		reason string
	}{
		{name: "ascii", source: "contract A {}"},
		{name: "exactly at limit", source: strings.Repeat("a", 100*1024)},
		{name: "empty", source: "", reason: ReasonEmpty},
		{name: "over limit", source: strings.Repeat("a", 101*1024), reason: ReasonTooLarge},
		// 60 Ki characters but 120 KiB once encoded.
		{name: "multibyte over byte limit", source: strings.Repeat("é", 60*1024), reason: ReasonTooLarge},
		{name: "multibyte under byte limit", source: strings.Repeat("é", 50*1024)},
		{name: "invalid utf8", source: "contract \xff {}", reason: ReasonWrongType},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateSource(tc.source, 0)
			if tc.reason == "" {
				require.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
			assert.Equal(t, tc.reason, ve.Reason)
		})
	}
}

func TestValidateInput(t *testing.T) {
	cases := []struct {
		name   string
		input  any
		want   string
		reason string
	}{
		{name: "string", input: "contract A {}", want: "contract A {}"},
		{name: "bytes", input: []byte("contract B {}"), want: "contract B {}"},
		{name: "nil", input: nil, reason: ReasonEmpty},
		{name: "number", input: 42, reason: ReasonWrongType},
		{name: "map", input: map[string]any{"a": 1}, reason: ReasonWrongType},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateInput(tc.input, DefaultMaxSourceBytes)
			if tc.reason == "" {
				require.NoError(t, err)
				assert.Equal(t, tc.want, got)
				return
			}
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.reason, ve.Reason)
		})
	}
}
