package repo

import (
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// openMaybeCompressed opens path and, based on its extension, wraps it in
// the matching decompressor.
func openMaybeCompressed(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	var r io.Reader
	var closeFn func() error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		r, closeFn = zr, zr.Close
	case ".bz2":
		r = bzip2.NewReader(f)
	case ".xz":
		zr, err := xz.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		r = zr
	case ".zst", ".zstd":
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		r, closeFn = zr, func() error { zr.Close(); return nil }
	default:
		return f, nil
	}
	return &stackedReader{Reader: r, inner: closeFn, file: f}, nil
}

type stackedReader struct {
	io.Reader
	inner func() error
	file  *os.File
}

func (s *stackedReader) Close() error {
	if s.inner != nil {
		_ = s.inner()
	}
	return s.file.Close()
}

// isCompressed reports whether openMaybeCompressed would decompress path.
func isCompressed(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz", ".bz2", ".xz", ".zst", ".zstd":
		return true
	}
	return false
}

// materialize returns a plain file holding the decompressed contents of
// path. Uncompressed files are returned as is; otherwise a temp file is
// created and its path is also returned as the second value so the caller
// can remove it.
func materialize(path string) (plain, temp string, err error) {
	if !isCompressed(path) {
		return path, "", nil
	}
	src, err := openMaybeCompressed(path)
	if err != nil {
		return "", "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer src.Close()

	dst, err := os.CreateTemp("", "repoview-*.sqlite")
	if err != nil {
		return "", "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", "", fmt.Errorf("decompressing %s: %w", path, err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", "", err
	}
	return dst.Name(), dst.Name(), nil
}
