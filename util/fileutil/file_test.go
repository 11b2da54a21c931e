package fileutil

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathJoinSafe(t *testing.T) {
	assert.Equal(t, "s3://bucket/models/gliner/model.onnx", PathJoinSafe("s3://bucket/models/", "gliner", "model.onnx"))
	assert.Equal(t, filepath.Join("/tmp", "models", "model.onnx"), PathJoinSafe("/tmp", "models", "model.onnx"))
	assert.Equal(t, "", PathJoinSafe())
}

func TestReadAndFind(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.onnx"), []byte("onnx"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tokenizer.json"), []byte(`{"a":1}`), 0o600))

	b, err := ReadFileBytes(ctx, filepath.Join(dir, "tokenizer.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(b))

	exists, err := FileExists(ctx, filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	assert.False(t, exists)

	found, err := FindFiles(ctx, dir, ".onnx")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "model.onnx", filepath.Base(found[0]))

	var visited []string
	err = WalkFiles(ctx, dir, ".json", func(_ string, name string, reader io.Reader) error {
		content, readErr := io.ReadAll(reader)
		visited = append(visited, name+":"+string(content))
		return readErr
	})
	require.NoError(t, err)
	assert.Equal(t, []string{`tokenizer.json:{"a":1}`}, visited)

	f, err := OpenFile(ctx, filepath.Join(dir, "model.onnx"))
	require.NoError(t, err)
	content, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, "onnx", string(content))
}

func TestReadLine(t *testing.T) {
	long := strings.Repeat("x", 100_000)
	r := bufio.NewReaderSize(strings.NewReader(long+"\nnext"), 16)
	line, err := ReadLine(r)
	require.NoError(t, err)
	assert.Len(t, line, 100_000)
	line, err = ReadLine(r)
	require.NoError(t, err)
	assert.Equal(t, "next", string(line))
	_, err = ReadLine(r)
	assert.ErrorIs(t, err, io.EOF)
}
