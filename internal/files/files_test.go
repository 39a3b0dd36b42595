package files

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "sub", "out.txt")
	assert.False(t, Exists(target))

	err := WriteAtomic(target, func(w io.Writer) error {
		_, err := io.WriteString(w, "hello")
		return err
	})
	require.NoError(t, err)
	assert.True(t, Exists(target))
	content, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))

	// A failing writer leaves the previous content and no temporary files behind.
	err = WriteAtomic(target, func(w io.Writer) error {
		_, _ = io.WriteString(w, "partial")
		return errors.New("boom")
	})
	require.ErrorContains(t, err, "boom")
	content, err = os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))

	entries, err := os.ReadDir(filepath.Dir(target))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "out.txt", entries[0].Name())
}

func TestTempPath(t *testing.T) {
	p1 := TempPath("/a/b/c.txt")
	p2 := TempPath("/a/b/c.txt")
	assert.NotEqual(t, p1, p2)
	assert.Equal(t, "/a/b", filepath.Dir(p1))
}

func TestWriteAtomicGroup(t *testing.T) {
	dir := t.TempDir()
	first, second := filepath.Join(dir, "first.json"), filepath.Join(dir, "second.txt")
	writeString := func(s string) func(w io.Writer) error {
		return func(w io.Writer) error {
			_, err := io.WriteString(w, s)
			return err
		}
	}
	require.NoError(t, WriteAtomicGroup([]Target{{first, writeString("v1")}, {second, writeString("v1")}}))

	// The second target fails: the first one is not replaced either.
	err := WriteAtomicGroup([]Target{
		{first, writeString("v2")},
		{second, func(w io.Writer) error { return errors.New("boom") }},
	})
	require.ErrorContains(t, err, "boom")
	for _, path := range []string{first, second} {
		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "v1", string(content), path)
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	require.NoError(t, WriteAtomicGroup([]Target{{first, writeString("v3")}, {second, writeString("v3")}}))
	content, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, "v3", string(content))
}
