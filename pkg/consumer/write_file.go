package consumer

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// DefaultFileMode is applied to files created by this package. Existing files
// keep whatever mode they already have.
const DefaultFileMode os.FileMode = 0644

// FileWriter writes downloads to the local filesystem.
type FileWriter struct{}

var _ Consumer = &FileWriter{}

func (f *FileWriter) Consume(reader io.Reader, destPath string, offset int64) (int64, error) {
	if offset < 0 {
		return 0, fmt.Errorf("invalid offset %d", offset)
	}
	openFlags := os.O_WRONLY
	if offset == 0 {
		openFlags |= os.O_TRUNC
	}
	out, err := openPreservingMode(destPath, openFlags)
	if err != nil {
		return 0, fmt.Errorf("error opening file: %w", err)
	}
	defer out.Close()

	if offset > 0 {
		if err := seekToOffset(out, offset); err != nil {
			return 0, err
		}
	}

	n, err := io.Copy(out, reader)
	if err != nil {
		return n, err
	}
	if err := out.Close(); err != nil {
		return n, fmt.Errorf("error closing file: %w", err)
	}
	return n, nil
}

// Discard truncates destPath to zero bytes. A missing file is not an error.
func (f *FileWriter) Discard(destPath string) error {
	err := os.Truncate(destPath, 0)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error discarding partial file: %w", err)
	}
	return nil
}

// seekToOffset positions out at offset, dropping anything beyond it. The file
// must already hold at least offset bytes, otherwise there would be a hole.
func seekToOffset(out *os.File, offset int64) error {
	info, err := out.Stat()
	if err != nil {
		return fmt.Errorf("error reading file size: %w", err)
	}
	if info.Size() < offset {
		return fmt.Errorf("cannot resume at byte %d, file %s holds only %d bytes", offset, out.Name(), info.Size())
	}
	if err := out.Truncate(offset); err != nil {
		return fmt.Errorf("error truncating file: %w", err)
	}
	if _, err := out.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("error seeking file: %w", err)
	}
	return nil
}

// openPreservingMode opens path for writing. A new file is created with
// DefaultFileMode regardless of umask; an existing file keeps its mode.
func openPreservingMode(path string, flag int) (*os.File, error) {
	if _, err := os.Stat(path); err == nil {
		return os.OpenFile(path, flag, 0)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	out, err := os.OpenFile(path, flag|os.O_CREATE, DefaultFileMode)
	if err != nil {
		return nil, err
	}
	if err := out.Chmod(DefaultFileMode); err != nil {
		out.Close()
		return nil, err
	}
	return out, nil
}

// Finalize renames a completed temporary download onto destPath. If destPath
// already exists its permissions carry over to the new content.
func Finalize(tmpPath, destPath string) error {
	if info, err := os.Stat(destPath); err == nil {
		if err := os.Chmod(tmpPath, info.Mode().Perm()); err != nil {
			return fmt.Errorf("error copying permissions: %w", err)
		}
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("error finalizing download: %w", err)
	}
	return nil
}
