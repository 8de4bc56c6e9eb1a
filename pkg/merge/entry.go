package merge

import (
	"path"
	"slices"
	"strings"

	"github.com/rhuss/vibe/pkg/project"
)

// EntryKind classifies an entry file.
type EntryKind string

const (
	EntryMarkup EntryKind = "markup"
	EntryScript EntryKind = "script"
)

// EntryFile is the file a project is rendered or started from.
type EntryFile struct {
	Name string
	Kind EntryKind
}

var (
	markupEntries = []string{"index.html", "index.htm"}
	scriptEntries = []string{"index.js", "main.js", "server.js", "app.js", "script.js", "main.py", "app.py"}

	markupExts = []string{".html", ".htm"}
	scriptExts = []string{".js", ".mjs", ".cjs", ".py"}
)

// Entry returns the highest-priority entry file of files: a conventional
// markup entry, then any markup file, then a conventional script entry,
// then any script file. Ties within a group resolve to the fewest path
// segments, then the shortest name, then lexical order.
func Entry(files project.FileSet) (EntryFile, bool) {
	for _, name := range markupEntries {
		if _, ok := files[name]; ok {
			return EntryFile{Name: name, Kind: EntryMarkup}, true
		}
	}
	if name, ok := firstWithExt(files, markupExts); ok {
		return EntryFile{Name: name, Kind: EntryMarkup}, true
	}
	for _, name := range scriptEntries {
		if _, ok := files[name]; ok {
			return EntryFile{Name: name, Kind: EntryScript}, true
		}
	}
	if name, ok := firstWithExt(files, scriptExts); ok {
		return EntryFile{Name: name, Kind: EntryScript}, true
	}
	return EntryFile{}, false
}

// IsScript reports whether name has a script extension.
func IsScript(name string) bool {
	return slices.Contains(scriptExts, strings.ToLower(path.Ext(name)))
}

// IsMarkup reports whether name has a markup extension.
func IsMarkup(name string) bool {
	return slices.Contains(markupExts, strings.ToLower(path.Ext(name)))
}

// ScriptEntryRank returns the position of name in the conventional script
// entry list, or -1.
func ScriptEntryRank(name string) int {
	return slices.Index(scriptEntries, name)
}

func firstWithExt(files project.FileSet, exts []string) (string, bool) {
	var candidates []string
	for name := range files {
		if strings.Contains(name, "node_modules/") {
			continue
		}
		if slices.Contains(exts, strings.ToLower(path.Ext(name))) {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	slices.SortFunc(candidates, func(a, b string) int {
		if d := strings.Count(a, "/") - strings.Count(b, "/"); d != 0 {
			return d
		}
		if d := len(a) - len(b); d != 0 {
			return d
		}
		return strings.Compare(a, b)
	})
	return candidates[0], true
}
