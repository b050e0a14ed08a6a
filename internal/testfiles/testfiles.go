// Package testfiles prepares and verifies the deterministic directory
// tree of fixed-size random-content files hashd reads from to exercise
// page-cache behavior.
//
// Grounded on original_source/rd-hashd/src/testfiles.rs for naming and
// layout, and on the teacher's internal/installer.go for the
// step-based progress-callback idiom.
package testfiles

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

const (
	// DefaultPrefix prefixes every generated directory and file name.
	DefaultPrefix = "rdh-"
	// FileBits bounds the addressable file-index space (2^28 files).
	FileBits = 28
	// fileDigits is how many hex digits encode a file index.
	fileDigits = FileBits / 4
	// DirBits is how many of FileBits' high bits select the directory.
	DirBits = 16
	// dirDigits is how many hex digits encode a directory index.
	dirDigits = DirBits / 4
)

// Files manages a TestFiles tree rooted at BasePath.
type Files struct {
	BasePath string
	FileSize uint64
	NrFiles  uint64
	Prefix   string
}

// New creates a Files manager; Prefix defaults to DefaultPrefix when
// empty.
func New(basePath string, fileSize, nrFiles uint64) *Files {
	return &Files{BasePath: basePath, FileSize: fileSize, NrFiles: nrFiles, Prefix: DefaultPrefix}
}

func (f *Files) prefix() string {
	if f.Prefix == "" {
		return DefaultPrefix
	}
	return f.Prefix
}

// idxToDirFile computes the (directory name, file name) pair for a
// file index, matching the upstream FILE_BITS/DIR_BITS hex-digit
// scheme: the top DirBits of the index select the directory, the
// remaining low bits select the file within it.
func (f *Files) idxToDirFile(idx uint64) (dir, file string) {
	di := idx >> (FileBits - DirBits)
	dir = fmt.Sprintf("%s%0*x", f.prefix(), dirDigits, di)
	file = fmt.Sprintf("%s%0*x", f.prefix(), fileDigits, idx)
	return
}

// Path returns the full path of the file at idx.
func (f *Files) Path(idx uint64) string {
	dir, file := f.idxToDirFile(idx)
	return filepath.Join(f.BasePath, dir, file)
}

// prepBaseDir ensures BasePath exists as a directory, replacing it if
// a non-directory file occupies that path.
func (f *Files) prepBaseDir() error {
	if info, err := os.Stat(f.BasePath); err == nil {
		if !info.IsDir() {
			if err := os.Remove(f.BasePath); err != nil {
				return err
			}
		}
	}
	return os.MkdirAll(f.BasePath, 0o755)
}

// Clear removes every prefix-matching child of BasePath.
func (f *Files) Clear() error {
	entries, err := os.ReadDir(f.BasePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	pfx := f.prefix()
	for _, e := range entries {
		if len(e.Name()) >= len(pfx) && e.Name()[:len(pfx)] == pfx {
			if err := os.RemoveAll(filepath.Join(f.BasePath, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

// ProgressFunc is called after each file index is processed during
// Setup, with the count completed so far.
type ProgressFunc func(done, total uint64)

// Setup prepares the full tree: creates directories as needed, skips
// files that already exist with the right size, and writes
// random-content files for the rest. It bails if NrFiles exceeds the
// addressable space implied by FileBits.
func (f *Files) Setup(progress ProgressFunc) error {
	if f.NrFiles > uint64(1)<<FileBits {
		return fmt.Errorf("testfiles: nr_files %d exceeds addressable limit %d", f.NrFiles, uint64(1)<<FileBits)
	}
	if err := f.prepBaseDir(); err != nil {
		return err
	}

	filesPerDir := uint64(1) << (FileBits - DirBits)

	for idx := uint64(0); idx < f.NrFiles; idx++ {
		dir, file := f.idxToDirFile(idx)
		dirPath := filepath.Join(f.BasePath, dir)

		if idx%filesPerDir == 0 {
			if err := os.MkdirAll(dirPath, 0o755); err != nil {
				return err
			}
		}

		path := filepath.Join(dirPath, file)
		if info, err := os.Stat(path); err == nil && uint64(info.Size()) == f.FileSize {
			if progress != nil {
				progress(idx+1, f.NrFiles)
			}
			continue
		} else if err == nil {
			if err := os.Remove(path); err != nil {
				return err
			}
		}

		if err := writeRandomFile(path, f.FileSize); err != nil {
			return fmt.Errorf("testfiles: writing %s: %w", path, err)
		}
		if progress != nil {
			progress(idx+1, f.NrFiles)
		}
	}

	if progress != nil {
		progress(f.NrFiles, f.NrFiles)
	}
	return nil
}

func writeRandomFile(path string, size uint64) error {
	fd, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer fd.Close()
	_, err = io.CopyN(fd, rand.Reader, int64(size))
	return err
}

// DropCaches issues posix_fadvise(DONTNEED) against every file in the
// tree, evicting their pages from cache so hashd's runs start cold.
func (f *Files) DropCaches() error {
	for idx := uint64(0); idx < f.NrFiles; idx++ {
		path := f.Path(idx)
		fd, err := os.Open(path)
		if err != nil {
			continue
		}
		if err := unix.Fadvise(int(fd.Fd()), 0, int64(f.FileSize), unix.FADV_DONTNEED); err != nil {
			// Ignored: a failed fadvise doesn't make the
			// run invalid, only potentially warmer than intended.
			_ = err
		}
		fd.Close()
	}
	return nil
}
