package fileutil

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/option"
	"github.com/viant/afs/storage"
	_ "github.com/viant/afsc/s3"
)

var fileSystem = afs.New()

const partSize = 64 * 1024 * 1024

// ReadFileBytes reads a local or remote (s3://) file fully into memory.
func ReadFileBytes(ctx context.Context, filename string) (b []byte, err error) {
	file, err := fileSystem.OpenURL(ctx, filename)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", filename, err)
	}
	defer func(file io.Closer) {
		err = errors.Join(err, file.Close())
	}(file)

	buf := &bytes.Buffer{}
	if _, readErr := io.Copy(buf, file); readErr != nil {
		return nil, fmt.Errorf("reading %s: %w", filename, readErr)
	}
	return buf.Bytes(), nil
}

// OpenFile opens a local or s3 file for streaming reads.
func OpenFile(ctx context.Context, filename string) (io.ReadCloser, error) {
	return fileSystem.OpenURL(ctx, filename)
}

func GetPathType(path string) string {
	if strings.HasPrefix(path, "s3://") {
		return "S3"
	}
	return "os"
}

// ReadLine returns a single line (without the ending \n) from the buffered reader.
// Unlike bufio.Scanner it has no 64K line limit, which long documents hit.
func ReadLine(r *bufio.Reader) ([]byte, error) {
	var (
		isPrefix = true
		err      error
		line, ln []byte
	)
	for isPrefix && err == nil {
		line, isPrefix, err = r.ReadLine()
		ln = append(ln, line...)
	}
	return ln, err
}

// PathJoinSafe joins path elements, preserving the double slash of s3:// urls.
func PathJoinSafe(elem ...string) string {
	if len(elem) == 0 {
		return ""
	}
	switch GetPathType(elem[0]) {
	case "S3":
		basePath := strings.TrimSuffix(elem[0], "/")
		return basePath + "/" + filepath.ToSlash(filepath.Join(elem[1:]...))
	default:
		return filepath.Join(elem...)
	}
}

func FileExists(ctx context.Context, filename string) (bool, error) {
	return fileSystem.Exists(ctx, filename)
}

// FileStats returns the file info of a local or remote object.
func FileStats(ctx context.Context, filename string) (os.FileInfo, error) {
	return fileSystem.Object(ctx, filename)
}

func CreateDir(ctx context.Context, dir string) error {
	return fileSystem.Create(ctx, dir, os.ModePerm, true)
}

func CopyFile(ctx context.Context, from string, to string) error {
	return fileSystem.Copy(ctx, from, to, option.NewSource(option.NewStream(partSize, 0)), option.NewDest(option.NewSkipChecksum(true)))
}

// WalkFiles visits every file under root whose name ends in ext, handing over its reader.
// The reader is only valid during the callback.
func WalkFiles(ctx context.Context, root string, ext string, visit func(parent string, name string, reader io.Reader) error) error {
	walker := func(_ context.Context, _ string, parent string, info os.FileInfo, reader io.Reader) (bool, error) {
		if info.IsDir() || !strings.HasSuffix(info.Name(), ext) {
			return true, nil
		}
		if err := visit(parent, info.Name(), reader); err != nil {
			return false, err
		}
		return true, nil
	}
	return fileSystem.Walk(ctx, root, storage.OnVisit(walker))
}

// FindFiles lists the relative paths of files under root with the given extension.
func FindFiles(ctx context.Context, root string, ext string) ([]string, error) {
	var found []string
	walker := func(_ context.Context, _ string, parent string, info os.FileInfo, _ io.Reader) (bool, error) {
		if !info.IsDir() && strings.HasSuffix(info.Name(), ext) {
			found = append(found, filepath.Join(parent, info.Name()))
		}
		return true, nil
	}
	if err := fileSystem.Walk(ctx, root, storage.OnVisit(walker)); err != nil {
		return nil, err
	}
	return found, nil
}

// NewFileWriter replaces filename with an empty writable file.
func NewFileWriter(ctx context.Context, filename string) (io.WriteCloser, error) {
	exists, err := FileExists(ctx, filename)
	if err != nil {
		return nil, err
	}
	if exists {
		if err = fileSystem.Delete(ctx, filename); err != nil {
			return nil, err
		}
	}
	return fileSystem.NewWriter(ctx, filename, 0o644, option.NewSkipChecksum(true))
}
