package excludelist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile_SkipsBlankLinesAndComments(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "exclude")

	content := "# comment\n\n*.tmp\nbuild/**\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	l := New()
	require.NoError(t, l.LoadFile(path))

	assert.Equal(t, []string{"*.tmp", "build/**"}, l.Patterns())
}

func TestLoadFile_MissingFileIsEmptyNotError(t *testing.T) {
	t.Parallel()

	l := New()
	require.NoError(t, l.LoadFile(filepath.Join(t.TempDir(), "does-not-exist")))

	assert.Empty(t, l.Patterns())
}

func TestMatches_GlobAndDirectoryPrefix(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "exclude")
	require.NoError(t, os.WriteFile(path, []byte("*.tmp\nbuild\n"), 0o644))

	l := New()
	require.NoError(t, l.LoadFile(path))

	assert.True(t, l.Matches("/a.tmp"))
	assert.True(t, l.Matches("/docs/b.tmp"))
	assert.True(t, l.Matches("/build"))
	assert.True(t, l.Matches("/build/output/bin"))
	assert.False(t, l.Matches("/docs/readme.txt"))
}

func TestLoadFile_InvalidPatternRejected(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "exclude")
	require.NoError(t, os.WriteFile(path, []byte("[invalid\n"), 0o644))

	l := New()
	err := l.LoadFile(path)
	require.Error(t, err)
}
