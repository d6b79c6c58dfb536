package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/ocr-batch/pkg/logger"
)

func TestNewSinkRequiresBaseDir(t *testing.T) {
	_, err := NewSink("", logger.NewTestLogger())
	assert.Error(t, err)
}

func TestNewSinkCreatesBaseDir(t *testing.T) {
	base := filepath.Join(t.TempDir(), "outputs")

	_, err := NewSink(base, logger.NewTestLogger())
	require.NoError(t, err)

	info, err := os.Stat(base)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestStoreWritesNestedKey(t *testing.T) {
	base := t.TempDir()
	s, err := NewSink(base, logger.NewTestLogger())
	require.NoError(t, err)

	location, err := s.Store(context.Background(), "sub/dir/a.png.json", strings.NewReader(`{"fullText":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "sub", "dir", "a.png.json"), location)

	data, err := os.ReadFile(location)
	require.NoError(t, err)
	assert.Equal(t, `{"fullText":"hello"}`, string(data))
}

func TestStoreOverwritesExisting(t *testing.T) {
	base := t.TempDir()
	s, err := NewSink(base, logger.NewTestLogger())
	require.NoError(t, err)

	_, err = s.Store(context.Background(), "a.json", strings.NewReader("first"))
	require.NoError(t, err)
	location, err := s.Store(context.Background(), "a.json", strings.NewReader("second"))
	require.NoError(t, err)

	data, err := os.ReadFile(location)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}
