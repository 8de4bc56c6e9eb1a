// Package merge combines a model's file set with a project's existing files.
//
// [Merge] is a right-biased union: incoming files overwrite existing files
// of the same name and everything else is preserved. It is pure and total.
// After every merge the result holds at least one recognized entry file;
// when neither input has one, a minimal index.html is synthesized.
package merge

import (
	"log/slog"
	"maps"
	"path"
	"slices"
	"strings"

	"github.com/rhuss/vibe/pkg/debug"
	"github.com/rhuss/vibe/pkg/project"
)

// DefaultEntry is the name of the synthesized markup entry.
const DefaultEntry = "index.html"

// defaultEntryContent is written when a merge result has no entry file.
const defaultEntryContent = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Preview</title>
</head>
<body>
  <div id="app"></div>
</body>
</html>
`

// Merge returns the right-biased union of existing and incoming. Neither
// input is modified. Filenames are normalized first; names that escape
// the project root are dropped.
func Merge(existing, incoming project.FileSet) project.FileSet {
	out := make(project.FileSet, len(existing)+len(incoming)+1)
	for n, content := range normalize(existing, false) {
		out[n] = content
	}
	for n, content := range normalize(incoming, true) {
		out[n] = content
	}

	if _, ok := Entry(out); !ok {
		debug.Log("merge", "no entry file, synthesizing default", "files", len(out))
		out[DefaultEntry] = defaultEntryContent
	}
	return out
}

// normalize rekeys files by their normalized names. When several names
// collapse onto one path, a name already in canonical form wins, otherwise
// the lexically smallest original name does.
func normalize(files project.FileSet, warn bool) project.FileSet {
	out := make(project.FileSet, len(files))
	for _, name := range slices.Sorted(maps.Keys(files)) {
		n, ok := NormalizeName(name)
		if !ok {
			if warn {
				slog.Warn("dropping file with unsafe name", "name", name)
			}
			continue
		}
		if _, taken := out[n]; taken && name != n {
			debug.Log("merge", "ignoring duplicate file name", "name", name, "path", n)
			continue
		}
		out[n] = files[name]
	}
	return out
}

// NormalizeName converts name to a clean, slash-separated path relative to
// the project root. It reports false for empty names and names that
// traverse outside the root.
func NormalizeName(name string) (string, bool) {
	n := strings.ReplaceAll(strings.TrimSpace(name), `\`, "/")
	for _, seg := range strings.Split(n, "/") {
		if seg == ".." {
			return "", false
		}
	}
	n = path.Clean("/" + n)
	n = strings.TrimPrefix(n, "/")
	if n == "" || n == "." {
		return "", false
	}
	return n, true
}
