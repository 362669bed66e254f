package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureCreatesDirectories(t *testing.T) {
	dir := t.TempDir()
	paths := NewPaths(filepath.Join(dir, "up"), filepath.Join(dir, "out"))

	require.NoError(t, paths.Ensure())

	for _, d := range []string{paths.UploadDir, paths.OutputDir} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestOutputNameFollowsJobConvention(t *testing.T) {
	paths := NewPaths("/up", "/out")

	assert.Equal(t, "job-1_high.mp4", paths.OutputName("job-1", "high", "mp4"))
	assert.Equal(t, "/out/job-1_high.mp4", paths.OutputPath("job-1", "high", "mp4"))
}

func TestInputPathFlattensTraversal(t *testing.T) {
	paths := NewPaths("/up", "/out")

	assert.Equal(t, "/up/clip.mp4", paths.InputPath("clip.mp4"))
	// Path components in the filename are stripped.
	assert.Equal(t, "/up/passwd", paths.InputPath("../../etc/passwd"))
	assert.Equal(t, "/up/clip.mp4", paths.InputPath("nested/dir/clip.mp4"))
}
