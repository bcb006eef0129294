package tenancy

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleForIsDeterministicAndKeyed(t *testing.T) {
	a, err := HandleFor([]byte("pepper-1"), "tenant-42")
	require.NoError(t, err)
	b, err := HandleFor([]byte("pepper-1"), " tenant-42 ")
	require.NoError(t, err)
	c, err := HandleFor([]byte("pepper-2"), "tenant-42")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, HandleLength)
	assert.False(t, strings.Contains(a, "tenant"))
	assert.True(t, ValidHandle(a))
}

func TestHandleForRejectsMissingInput(t *testing.T) {
	_, err := HandleFor(nil, "tenant")
	assert.True(t, errors.Is(err, ErrEmptyPepper))

	_, err = HandleFor([]byte("p"), "  ")
	assert.Error(t, err)
}

func TestValidHandle(t *testing.T) {
	cases := map[string]bool{
		"0123456789abcdef":                   true,
		"tenant_handle-0001":                 true,
		"short":                              false,
		"UPPERCASE0123456789":                false,
		"has space 0123456789":               false,
		"../../etc/passwd0000":               false,
		strings.Repeat("a", maxHandleLength): true,
		strings.Repeat("a", maxHandleLength+1): false,
	}
	for in, want := range cases {
		assert.Equal(t, want, ValidHandle(in), in)
	}
}

func TestLogHandleHidesHandle(t *testing.T) {
	h := "0123456789abcdef0123456789abcdef"
	got := LogHandle(h)
	assert.Len(t, got, logHandleLength)
	assert.NotContains(t, h, got)
	assert.Equal(t, got, LogHandle(h))
	assert.Empty(t, LogHandle(""))
}
