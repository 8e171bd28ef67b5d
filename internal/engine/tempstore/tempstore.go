// Package tempstore names, lists, validates, and assembles the per-range
// temp files a download's workers write to disk.
package tempstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/AminBhst/brisk-engine/internal/engine/segment"
)

// partSuffix is appended to every temp file name.
const partSuffix = ".part"

// ErrAssembleFailed is returned when the assembled file's length does not
// match the declared content length.
var ErrAssembleFailed = errors.New("tempstore: assembled file length mismatch")

// File pairs a temp file's path with the byte range its name encodes.
type File struct {
	Path    string
	Segment segment.Segment
}

// Store names, lists, validates, and assembles a download's temp files.
// Its naming scheme is a private contract between TempFileName and
// parseTempFileName: everything else in the package depends only on those
// two extractor functions, per the engine's design (the exact on-disk name
// is not part of the external interface).
type Store struct {
	BaseTempDir string
	BaseSaveDir string
}

// New returns a Store rooted at the given temp and save directories.
func New(baseTempDir, baseSaveDir string) *Store {
	return &Store{BaseTempDir: baseTempDir, BaseSaveDir: baseSaveDir}
}

// DirFor returns the per-download temp directory for uid.
func (s *Store) DirFor(uid string) string {
	return filepath.Join(s.BaseTempDir, uid)
}

// TempFileName returns the on-disk name for a worker's segment: start and
// end bytes are zero-padded so lexicographic and numeric order agree.
func TempFileName(seg segment.Segment) string {
	return fmt.Sprintf("%020d-%020d%s", seg.Start, seg.End, partSuffix)
}

func parseTempFileName(name string) (segment.Segment, bool) {
	if !strings.HasSuffix(name, partSuffix) {
		return segment.Segment{}, false
	}
	name = strings.TrimSuffix(name, partSuffix)
	parts := strings.SplitN(name, "-", 2)
	if len(parts) != 2 {
		return segment.Segment{}, false
	}
	start, err1 := strconv.ParseInt(parts[0], 10, 64)
	end, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return segment.Segment{}, false
	}
	return segment.New(start, end), true
}

// SortedTempFiles lists dir's temp files ordered by start byte.
func SortedTempFiles(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("tempstore: read dir: %w", err)
	}

	var files []File
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		seg, ok := parseTempFileName(e.Name())
		if !ok {
			continue
		}
		files = append(files, File{Path: filepath.Join(dir, e.Name()), Segment: seg})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Segment.Start < files[j].Segment.Start })
	return files, nil
}

// FindMissingByteRanges walks dir's sorted temp files and returns the gaps
// between them (and the tail past the last file, if any) that still need
// downloading. If dir is empty or missing, the whole content range is
// missing.
func FindMissingByteRanges(contentLength int64, dir string) ([]segment.Segment, error) {
	files, err := SortedTempFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return []segment.Segment{segment.New(0, contentLength-1)}, nil
	}

	var missing []segment.Segment
	var cursor int64
	for _, f := range files {
		if f.Segment.Start > cursor {
			missing = append(missing, segment.New(cursor, f.Segment.Start-1))
		}
		if f.Segment.End+1 > cursor {
			cursor = f.Segment.End + 1
		}
	}
	if cursor <= contentLength-1 {
		missing = append(missing, segment.New(cursor, contentLength-1))
	}
	return missing, nil
}

// Corruption describes a temp file flagged by ValidateIntegrity.
type Corruption struct {
	File   File
	Reason string
}

// ValidateOptions controls ValidateIntegrity's behavior.
type ValidateOptions struct {
	DeleteCorrupted bool
	CheckForMissing bool
}

// ValidateIntegrity flags temp files whose on-disk length does not match
// their declared range, whose range exceeds contentLength, or whose range
// overlaps another file's range. When opts.DeleteCorrupted is set, flagged
// files are unlinked.
func ValidateIntegrity(dir string, contentLength int64, opts ValidateOptions) ([]Corruption, error) {
	files, err := SortedTempFiles(dir)
	if err != nil {
		return nil, err
	}

	var corrupt []Corruption
	flag := func(f File, reason string) {
		corrupt = append(corrupt, Corruption{File: f, Reason: reason})
		if opts.DeleteCorrupted {
			_ = os.Remove(f.Path)
		}
	}

	for i, f := range files {
		info, err := os.Stat(f.Path)
		if err != nil {
			continue // already gone, nothing to flag
		}
		if info.Size() != f.Segment.Length() {
			flag(f, "length mismatch")
			continue
		}
		if f.Segment.End >= contentLength {
			flag(f, "range exceeds content length")
			continue
		}
		for j, other := range files {
			if i == j {
				continue
			}
			if f.Segment.Overlaps(other.Segment) {
				flag(f, "overlaps another temp file")
				break
			}
		}
	}

	if opts.CheckForMissing {
		if _, err := FindMissingByteRanges(contentLength, dir); err != nil {
			return corrupt, err
		}
	}

	return corrupt, nil
}

// UniqueFilePath returns a path under dir that does not yet exist, appending
// "(n)" before the extension when name collides with an existing file.
func UniqueFilePath(dir, name string) string {
	candidate := filepath.Join(dir, name)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s(%d)%s", base, n, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// Assemble concatenates dir's sorted temp files, in order, into a single
// file under destDir named name (disambiguated via UniqueFilePath). If
// destDir refuses the create (permissions, a missing mount, ...), it falls
// back to saving under uid+extension in dir's parent directory — the
// download's own base temp directory, which is already known writable
// since every worker just finished writing to it. On success it removes
// dir. It fails with ErrAssembleFailed if the written file's length does
// not match contentLength, leaving dir intact for a retry.
func Assemble(dir, destDir, name string, contentLength int64) (string, error) {
	files, err := SortedTempFiles(dir)
	if err != nil {
		return "", err
	}

	destPath, out, err := createDestination(dir, destDir, name)
	if err != nil {
		return "", err
	}
	defer out.Close()

	for _, f := range files {
		if err := appendFile(out, f.Path); err != nil {
			return "", fmt.Errorf("tempstore: append %s: %w", f.Path, err)
		}
	}

	info, err := out.Stat()
	if err != nil {
		return "", fmt.Errorf("tempstore: stat %s: %w", destPath, err)
	}
	if written := info.Size(); written != contentLength {
		return "", fmt.Errorf("%w: wrote %d bytes, want %d", ErrAssembleFailed, written, contentLength)
	}

	if err := os.RemoveAll(dir); err != nil {
		return destPath, fmt.Errorf("tempstore: remove temp dir: %w", err)
	}
	return destPath, nil
}

// createDestination creates the assembled file under destDir, named name
// and disambiguated via UniqueFilePath. If destDir's directory can't be
// created or the file can't be created there, it falls back to dir's
// parent directory, naming the file after dir's own uid plus name's
// extension (spec.md §4.2, "on create failure, fall back to saving under
// uid + extension in a secondary directory").
func createDestination(dir, destDir, name string) (string, *os.File, error) {
	if err := os.MkdirAll(destDir, 0o755); err == nil {
		destPath := UniqueFilePath(destDir, name)
		if out, err := os.Create(destPath); err == nil {
			return destPath, out, nil
		}
	}

	secondaryDir := filepath.Dir(dir)
	uid := filepath.Base(dir)
	fallbackName := uid + filepath.Ext(name)
	destPath := UniqueFilePath(secondaryDir, fallbackName)
	out, err := os.Create(destPath)
	if err != nil {
		return "", nil, fmt.Errorf("tempstore: create destination file in %s or fallback %s: %w", destDir, secondaryDir, err)
	}
	return destPath, out, nil
}

func appendFile(dst *os.File, srcPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	_, err = io.Copy(dst, src)
	return err
}
