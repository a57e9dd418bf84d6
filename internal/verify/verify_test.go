package verify

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, base, rel, content string) {
	t.Helper()
	path := filepath.Join(base, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestVerifyEmptyFileWithDoubleSlash(t *testing.T) {
	base := t.TempDir()
	writeFile(t, base, "mock_data/example/path/test", "")

	v := New(base)
	assert.NoError(t, v.Verify("mock_data//example/path/test", ""))
	assert.NoError(t, v.Verify("mock_data/example/path/test", ""))
}

func TestVerifyMissingFile(t *testing.T) {
	v := New(t.TempDir())

	err := v.Verify("mock_data//example/path/test", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFileNotFound)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.NotErrorIs(t, err, ErrContentMismatch)
}

func TestVerifyContentMismatch(t *testing.T) {
	base := t.TempDir()
	writeFile(t, base, "out/page.html", "<p>test</p>\n")

	err := New(base).Verify("out/page.html", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrContentMismatch)
	assert.NotErrorIs(t, err, ErrFileNotFound)

	var mismatch *MismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "", mismatch.Expected)
	assert.Equal(t, "<p>test</p>\n", mismatch.Actual)
	assert.Contains(t, mismatch.Diff, "+<p>test</p>")
	assert.Contains(t, err.Error(), filepath.Join(base, "out", "page.html"))
}

func TestVerifyExactContent(t *testing.T) {
	base := t.TempDir()
	writeFile(t, base, "a.txt", "line one\nline two\n")

	v := New(base)
	assert.NoError(t, v.Verify("a.txt", "line one\nline two\n"))
	assert.ErrorIs(t, v.Verify("a.txt", "line one\nline two"), ErrContentMismatch)
}

func TestVerifyDirectoryIsNotAFile(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "dir"), 0o755))

	err := New(base).Verify("dir", "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrFileNotFound)
}

func TestResolveStaysInsideBase(t *testing.T) {
	base := t.TempDir()
	v := New(base)

	path, err := v.Resolve("mock_data//example/path/test")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "mock_data", "example", "path", "test"), path)

	path, err = v.Resolve("mock_data/example/../other")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "mock_data", "other"), path)

	for _, rel := range []string{"../x", "mock_data//example/path/../../../../x", ".."} {
		_, err := v.Resolve(rel)
		assert.ErrorIs(t, err, ErrOutsideBase, rel)
	}
}

func TestVerifyRejectsEscapingPath(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "secret", "")

	v := New(filepath.Join(root, "service"))
	err := v.Verify("mock_data//../../secret", "")
	assert.ErrorIs(t, err, ErrOutsideBase)
	assert.NotErrorIs(t, err, ErrFileNotFound)
}
