// Package workspace moves project files between a FileSet and a directory
// on disk, and watches such a directory for edits.
package workspace

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/rhuss/vibe/pkg/debug"
	"github.com/rhuss/vibe/pkg/merge"
	"github.com/rhuss/vibe/pkg/project"
)

// MaxFileSize is the largest file Load accepts. Larger files are skipped.
const MaxFileSize = 1 << 20

// ErrEmpty is returned by Load when a directory holds no project files.
var ErrEmpty = errors.New("workspace: no project files found")

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
}

// manifests are dotfiles that belong to a project.
var manifests = map[string]bool{
	".replit": true,
}

// Load reads the text files under dir into a FileSet keyed by their
// slash-separated path relative to dir. Hidden directories, dependency
// folders, binary files and files over MaxFileSize are skipped.
func Load(dir string) (project.FileSet, error) {
	files := project.FileSet{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if rel != "." && (skipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || Ignored(rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > MaxFileSize {
			debug.Log("workspace", "skipping large file", "name", rel, "bytes", info.Size())
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if !isText(data) {
			debug.Log("workspace", "skipping binary file", "name", rel)
			return nil
		}
		name, ok := merge.NormalizeName(filepath.ToSlash(rel))
		if !ok {
			return nil
		}
		files[name] = string(data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrEmpty, dir)
	}
	return files, nil
}

// Write materializes files under dir, creating parent directories as
// needed. Names are resolved inside dir; a name that would escape it is
// rejected.
func Write(dir string, files project.FileSet) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	for _, name := range files.Names() {
		clean, ok := merge.NormalizeName(name)
		if !ok {
			return fmt.Errorf("unsafe file name %q", name)
		}
		path, err := securejoin.SecureJoin(dir, clean)
		if err != nil {
			return fmt.Errorf("resolve %q: %w", name, err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create directory for %q: %w", name, err)
		}
		if err := os.WriteFile(path, []byte(files[name]), 0o644); err != nil {
			return fmt.Errorf("write %q: %w", name, err)
		}
	}
	return nil
}

// Ignored reports whether a relative path names an editor or OS artifact
// that is never part of a project.
func Ignored(rel string) bool {
	base := filepath.Base(rel)
	switch {
	case manifests[base]:
		return false
	case strings.HasPrefix(base, "."):
		return true
	case strings.HasSuffix(base, "~"), strings.HasSuffix(base, ".swp"), strings.HasSuffix(base, ".tmp"):
		return true
	}
	return false
}

func isText(data []byte) bool {
	if bytes.IndexByte(data, 0) >= 0 {
		return false
	}
	return utf8.Valid(data)
}
