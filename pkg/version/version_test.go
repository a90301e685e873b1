package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetReturnsTrimmedVersion(t *testing.T) {
	got := Get()
	assert.NotEmpty(t, got)
	assert.Equal(t, byte('v'), got[0])
	assert.NotContains(t, got, "\n")
}
