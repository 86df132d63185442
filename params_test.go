package serial

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParams(t *testing.T) {
	cases := []struct {
		in   string
		want LineParams
	}{
		{"1200", LineParams{1200, ParityEven, 7, 1}},
		{"9600N81", LineParams{9600, ParityNone, 8, 1}},
		{"9600n81", LineParams{9600, ParityNone, 8, 1}},
		{"38400O72", LineParams{38400, ParityOdd, 7, 2}},
		{"300E", LineParams{300, ParityEven, 7, 1}},
		{"115200N8", LineParams{115200, ParityNone, 8, 1}},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseParams(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseParams_Invalid(t *testing.T) {
	for _, in := range []string{"", "0", "N81", "9600X81", "9600N91", "9600N83", "9600 N81"} {
		_, err := ParseParams(in)
		assert.ErrorIs(t, err, ErrInvalidParams, "input %q", in)
	}
	_, err := ParseParams("1000")
	assert.ErrorIs(t, err, ErrUnsupportedBaud)

	// Digits are consumed greedily by the baud rate, never as stop bits.
	_, err = ParseParams("48002")
	assert.ErrorIs(t, err, ErrUnsupportedBaud)
}

func TestLineParams_String(t *testing.T) {
	assert.Equal(t, "1200E71", DefaultParams.String())
	p, err := ParseParams(DefaultParams.String())
	require.NoError(t, err)
	assert.Equal(t, DefaultParams, p)
}
