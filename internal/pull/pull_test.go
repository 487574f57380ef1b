package pull

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseStat(t *testing.T) {
	size, mode, ok := ParseStat([]byte("some preamble\n>>>>> STAT 1024 420\nignored trailer\n"))
	assert.True(t, ok)
	assert.Equal(t, int64(1024), size)
	assert.Equal(t, int64(420), mode)
}

func TestParseStatMissing(t *testing.T) {
	_, _, ok := ParseStat([]byte("no stat line here\n"))
	assert.False(t, ok)
}

func TestParseStatRejectsMalformedFields(t *testing.T) {
	_, _, ok := ParseStat([]byte(">>>>> STAT notanumber 420\n"))
	assert.False(t, ok)

	_, _, ok = ParseStat([]byte(">>>>> STAT 1024\n"))
	assert.False(t, ok)
}
