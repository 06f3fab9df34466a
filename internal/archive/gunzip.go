// Package archive decompresses downloaded snapshot archives.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

const gzipSuffix = ".gz"

// ErrNotGzip is returned for paths without a .gz suffix.
var ErrNotGzip = errors.New("not a .gz file")

// Gunzip implements sst.Decompressor for gzip archives.
type Gunzip struct {
	// KeepArchive leaves the .gz file in place after decompression.
	KeepArchive bool
}

// Decompress writes path without its .gz suffix and removes the archive unless
// KeepArchive is set. The output appears atomically.
func (g Gunzip) Decompress(path string) error {
	if !strings.HasSuffix(path, gzipSuffix) {
		return fmt.Errorf("%w: %s", ErrNotGzip, path)
	}
	target := strings.TrimSuffix(path, gzipSuffix)

	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer in.Close()

	zr, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("read gzip header %s: %w", path, err)
	}
	defer zr.Close()

	out, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*.part")
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	tmpName := out.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(out, zr); err != nil {
		out.Close()
		return fmt.Errorf("decompress %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("rename output: %w", err)
	}
	if !g.KeepArchive {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove archive: %w", err)
		}
	}
	return nil
}
