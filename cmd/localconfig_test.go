package cmd_test

import (
	"strings"
	"testing"

	. "github.com/piprate/teamkeep/cmd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePath(t *testing.T) {
	SetConfigDirName(".teamkeep-test")
	dir, err := ConfigDir()
	require.NoError(t, err)

	p, err := StorePath()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p, dir))
	assert.Equal(t, "/teams.bolt", p[len(dir):])
}
