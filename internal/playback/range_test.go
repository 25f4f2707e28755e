package playback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRange(t *testing.T) {
	const clipSize = 4096

	cases := []struct {
		header string
		size   int64
		want   Span
	}{
		{"bytes=0-", clipSize, Span{0, clipSize}},
		{"bytes=0-1023", clipSize, Span{0, 1024}},
		{"bytes=1024-", clipSize, Span{1024, 3072}},
		{"bytes=-512", clipSize, Span{3584, 512}},
		{"bytes=-10000", clipSize, Span{0, clipSize}},
		{"bytes=0-0", clipSize, Span{0, 1}},
		{"bytes=4095-", clipSize, Span{4095, 1}},
		{"bytes=100-99999", clipSize, Span{100, 3996}},
		{"bytes=0-99, 200-299", clipSize, Span{0, 100}},
		{"  bytes=10-19 ", clipSize, Span{10, 10}},
	}
	for _, tc := range cases {
		t.Run(tc.header, func(t *testing.T) {
			got, ok, err := ParseRange(tc.header, tc.size)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseRange_NoHeader(t *testing.T) {
	_, ok, err := ParseRange("   ", 100)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseRange_Errors(t *testing.T) {
	cases := []struct {
		header string
		size   int64
		want   error
	}{
		{"bytes=4096-", 4096, ErrUnsatisfiable},
		{"bytes=5000-6000", 4096, ErrUnsatisfiable},
		{"bytes=-10", 0, ErrUnsatisfiable},
		{"frames=0-10", 4096, ErrInvalidRange},
		{"bytes=abc-10", 4096, ErrInvalidRange},
		{"bytes=0-abc", 4096, ErrInvalidRange},
		{"bytes=-0", 4096, ErrInvalidRange},
		{"bytes=500-100", 4096, ErrInvalidRange},
		{"bytes=100", 4096, ErrInvalidRange},
		{"garbage", 4096, ErrInvalidRange},
	}
	for _, tc := range cases {
		t.Run(tc.header, func(t *testing.T) {
			_, ok, err := ParseRange(tc.header, tc.size)
			assert.ErrorIs(t, err, tc.want)
			assert.False(t, ok)
		})
	}
}

func TestSpan_Header(t *testing.T) {
	s := Span{Offset: 500, Length: 500}
	assert.Equal(t, int64(999), s.Last())
	assert.Equal(t, "bytes 500-999/1000", s.Header(1000))
	assert.Equal(t, "bytes 0-0/1", Span{0, 1}.Header(1))
}
