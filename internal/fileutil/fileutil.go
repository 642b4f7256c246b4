// Package fileutil provides filesystem helpers for output naming, artifact
// cleanup, and file movement across devices.
package fileutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

const maxTitleLength = 100

// SafeTitle sanitizes a media title into a filesystem-safe file stem.
// Characters outside the allowlist collapse to underscores, runs of
// whitespace collapse to single spaces, and the result is truncated.
// An empty result falls back to "video".
func SafeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	lastSpace := false
	for _, r := range title {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("-_.[]()", r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			lastSpace = true
		default:
			if !lastSpace && b.Len() > 0 {
				b.WriteByte('_')
			}
			lastSpace = true
		}
	}

	cleaned := strings.Trim(b.String(), " ._")
	runes := []rune(cleaned)
	if len(runes) > maxTitleLength {
		cleaned = strings.TrimRight(string(runes[:maxTitleLength]), " ._")
	}
	if cleaned == "" {
		return "video"
	}
	return cleaned
}

// UniqueOutputPath resolves a collision-free path for stem+ext inside dir.
// When "stem.ext" already exists it tries "stem_1.ext", "stem_2.ext", and so
// on. The returned path is not reserved; callers own the race window.
func UniqueOutputPath(dir, stem, ext string) (string, error) {
	return UniquePath(dir, stem, ext, nil)
}

// UniquePath is UniqueOutputPath with an extra veto: candidates the reject
// callback claims are skipped even when no file exists yet. Used to avoid
// handing the same name to two in-flight jobs.
func UniquePath(dir, stem, ext string, reject func(path string) bool) (string, error) {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	for i := 0; i < 10000; i++ {
		name := stem
		if i > 0 {
			name = fmt.Sprintf("%s_%d", stem, i)
		}
		candidate := filepath.Join(dir, name+ext)
		if Exists(candidate) {
			continue
		}
		if reject != nil && reject(candidate) {
			continue
		}
		return candidate, nil
	}
	return "", fmt.Errorf("no unique name available for %q in %s", stem+ext, dir)
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Touch updates the modification and access time of path to now.
func Touch(path string) error {
	now := time.Now()
	return os.Chtimes(path, now, now)
}

// SweepArtifacts removes fetch leftovers whose names start with stem:
// partial downloads (.part), resume journals (.ytdl), and, when includeRaw
// is set, the raw intermediates kept between fetch and transcode. It
// returns the removed paths and keeps going past individual failures.
func SweepArtifacts(dir, stem string, includeRaw bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", dir, err)
	}

	var removed []string
	var firstErr error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, stem) {
			continue
		}
		rest := name[len(stem):]
		drop := strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".ytdl")
		if includeRaw && strings.HasPrefix(rest, "_raw") {
			drop = true
		}
		if !drop {
			continue
		}
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed = append(removed, path)
	}
	return removed, firstErr
}

// MoveFile renames src to dst, falling back to copy+remove when the rename
// crosses devices.
func MoveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := CopyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// CopyFile streams src to dst using io.Copy with default permissions (0o644).
func CopyFile(src, dst string) error {
	return CopyFileMode(src, dst, 0o644)
}

// CopyFileMode streams src to dst, setting the given file mode on dst.
func CopyFileMode(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
