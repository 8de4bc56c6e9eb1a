// Package project defines the data model shared by the prompt and preview
// pipelines: file sets, projects, and prompt interactions.
package project

import (
	"maps"
	"slices"
	"time"
)

// FileSet maps a relative filename to its text content. Order is
// irrelevant and filenames are unique. FileSet values are treated as
// immutable; use Clone before modifying one you did not create.
type FileSet map[string]string

// Clone returns a shallow copy of fs. A nil FileSet clones to an empty one.
func (fs FileSet) Clone() FileSet {
	out := make(FileSet, len(fs))
	maps.Copy(out, fs)
	return out
}

// Names returns the filenames in lexical order.
func (fs FileSet) Names() []string {
	return slices.Sorted(maps.Keys(fs))
}

// Equal reports whether fs and other hold the same names and contents.
func (fs FileSet) Equal(other FileSet) bool {
	return maps.Equal(fs, other)
}

// Runtime selects the starter files of a new project.
type Runtime string

const (
	RuntimePython     Runtime = "python"
	RuntimeJavaScript Runtime = "javascript"
	RuntimeNode       Runtime = "node"
)

// Valid reports whether r is a known runtime.
func (r Runtime) Valid() bool {
	switch r {
	case RuntimePython, RuntimeJavaScript, RuntimeNode:
		return true
	}
	return false
}

// Project is a learner's workspace: its current files plus metadata.
// Owner scopes the project to a tenant when authentication is enabled.
type Project struct {
	ID          string    `json:"id"`
	Owner       string    `json:"owner,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Runtime     Runtime   `json:"runtime"`
	Files       FileSet   `json:"files"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Interaction records one prompt cycle. It is immutable once created and
// only ever appended to a project's history.
type Interaction struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Prompt    string    `json:"prompt"`
	Message   string    `json:"message"`
	Files     FileSet   `json:"files"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
