package storage

import (
	"context"

	"github.com/rhuss/vibe/pkg/project"
)

// ProjectStore persists projects and their interaction histories.
//
// Every method is scoped by the tenant in ctx (see SetTenant): records
// owned by another tenant behave as if they did not exist. Implementations
// must be safe for concurrent use.
type ProjectStore interface {
	// CreateProject stores a new project. The owner is taken from ctx.
	// Returns ErrConflict if the ID is taken.
	CreateProject(ctx context.Context, p *project.Project) error

	// GetProject returns the project with its current files.
	GetProject(ctx context.Context, id string) (*project.Project, error)

	// ListProjects returns projects, newest first by default.
	ListProjects(ctx context.Context, opts ListOptions) (*ProjectList, error)

	// UpdateProject replaces the name, description and files of an
	// existing project and bumps UpdatedAt.
	UpdateProject(ctx context.Context, p *project.Project) error

	// DeleteProject removes a project and its interactions.
	DeleteProject(ctx context.Context, id string) error

	// CommitPrompt writes the merged files of a prompt cycle and appends
	// its interaction in one atomic step. On error nothing is written.
	CommitPrompt(ctx context.Context, projectID string, files project.FileSet, in *project.Interaction) error

	// ListInteractions returns a project's interactions, oldest first.
	ListInteractions(ctx context.Context, projectID string) ([]*project.Interaction, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// ListOptions controls project listing.
type ListOptions struct {
	// Limit is the page size (default 20, max 100).
	Limit int

	// After is the ID of the last project of the previous page.
	After string

	// Order is "asc" or "desc" by creation time (default "desc").
	Order string
}

// ProjectList is one page of projects.
type ProjectList struct {
	Object  string             `json:"object"`
	Data    []*project.Project `json:"data"`
	FirstID string             `json:"first_id,omitempty"`
	LastID  string             `json:"last_id,omitempty"`
	HasMore bool               `json:"has_more"`
}

// EffectiveLimit clamps opts.Limit to the supported range.
func (o ListOptions) EffectiveLimit() int {
	switch {
	case o.Limit <= 0:
		return 20
	case o.Limit > 100:
		return 100
	default:
		return o.Limit
	}
}

// NewProjectList builds a page from matches, which must hold up to
// limit+1 sorted projects.
func NewProjectList(matches []*project.Project, limit int) *ProjectList {
	hasMore := len(matches) > limit
	if hasMore {
		matches = matches[:limit]
	}
	list := &ProjectList{Object: "list", Data: matches, HasMore: hasMore}
	if len(matches) > 0 {
		list.FirstID = matches[0].ID
		list.LastID = matches[len(matches)-1].ID
	}
	if list.Data == nil {
		list.Data = []*project.Project{}
	}
	return list
}
