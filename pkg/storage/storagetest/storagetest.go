// Package storagetest holds the behavioral test suite every
// storage.ProjectStore implementation must pass.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/project"
	"github.com/rhuss/vibe/pkg/storage"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) storage.ProjectStore

// base is truncated to microseconds so every backend round-trips it.
var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// NewProject builds a project created offset after a fixed base time.
func NewProject(offset time.Duration) *project.Project {
	created := base.Add(offset)
	return &project.Project{
		ID:        api.NewProjectID(),
		Name:      "snake",
		Runtime:   project.RuntimeJavaScript,
		Files:     project.InitialFiles(project.RuntimeJavaScript),
		CreatedAt: created,
		UpdatedAt: created,
	}
}

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.ProjectStore)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"CreateConflict", testCreateConflict},
		{"GetNotFound", testGetNotFound},
		{"TenantIsolation", testTenantIsolation},
		{"Update", testUpdate},
		{"DeleteCascades", testDeleteCascades},
		{"CommitPrompt", testCommitPrompt},
		{"CommitPromptMissingProject", testCommitPromptMissingProject},
		{"ListOrderAndPagination", testListOrderAndPagination},
		{"ReturnsCopies", testReturnsCopies},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			tt.fn(t, s)
		})
	}
}

func testCreateAndGet(t *testing.T, s storage.ProjectStore) {
	ctx := context.Background()
	p := NewProject(0)
	p.Description = "a tiny game"
	if err := s.CreateProject(ctx, p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	got, err := s.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if got.Name != "snake" || got.Description != "a tiny game" || got.Runtime != project.RuntimeJavaScript {
		t.Errorf("unexpected project: %+v", got)
	}
	if diff := cmp.Diff(p.Files, got.Files); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
	if !got.CreatedAt.Equal(p.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, p.CreatedAt)
	}
}

func testCreateConflict(t *testing.T, s storage.ProjectStore) {
	ctx := context.Background()
	p := NewProject(0)
	if err := s.CreateProject(ctx, p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if err := s.CreateProject(ctx, p); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func testGetNotFound(t *testing.T, s storage.ProjectStore) {
	_, err := s.GetProject(context.Background(), api.NewProjectID())
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func testTenantIsolation(t *testing.T, s storage.ProjectStore) {
	alice := storage.SetTenant(context.Background(), "alice")
	bob := storage.SetTenant(context.Background(), "bob")

	p := NewProject(0)
	if err := s.CreateProject(alice, p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if p.Owner != "alice" {
		t.Errorf("Owner = %q, want alice", p.Owner)
	}

	if _, err := s.GetProject(bob, p.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("bob should not see alice's project, got %v", err)
	}
	if err := s.DeleteProject(bob, p.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("bob should not delete alice's project, got %v", err)
	}
	list, err := s.ListProjects(bob, storage.ListOptions{})
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if len(list.Data) != 0 {
		t.Errorf("bob listed %d projects, want 0", len(list.Data))
	}

	got, err := s.GetProject(alice, p.ID)
	if err != nil {
		t.Fatalf("alice GetProject: %v", err)
	}
	if got.Owner != "alice" {
		t.Errorf("Owner = %q, want alice", got.Owner)
	}
}

func testUpdate(t *testing.T, s storage.ProjectStore) {
	ctx := context.Background()
	p := NewProject(0)
	if err := s.CreateProject(ctx, p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	p.Name = "pong"
	p.Files = project.FileSet{"index.html": "<h1>pong</h1>"}
	if err := s.UpdateProject(ctx, p); err != nil {
		t.Fatalf("UpdateProject: %v", err)
	}

	got, err := s.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if got.Name != "pong" {
		t.Errorf("Name = %q, want pong", got.Name)
	}
	if diff := cmp.Diff(p.Files, got.Files); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
	if !got.UpdatedAt.After(p.CreatedAt) {
		t.Errorf("UpdatedAt %v not after CreatedAt %v", got.UpdatedAt, p.CreatedAt)
	}

	missing := NewProject(0)
	if err := s.UpdateProject(ctx, missing); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func testDeleteCascades(t *testing.T, s storage.ProjectStore) {
	ctx := context.Background()
	p := NewProject(0)
	if err := s.CreateProject(ctx, p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if err := s.CommitPrompt(ctx, p.ID, p.Files, newInteraction(p.ID, "first", 0)); err != nil {
		t.Fatalf("CommitPrompt: %v", err)
	}

	if err := s.DeleteProject(ctx, p.ID); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	if _, err := s.GetProject(ctx, p.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := s.ListInteractions(ctx, p.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound for interactions after delete, got %v", err)
	}
	if err := s.DeleteProject(ctx, p.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

func testCommitPrompt(t *testing.T, s storage.ProjectStore) {
	ctx := context.Background()
	p := NewProject(0)
	if err := s.CreateProject(ctx, p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	merged := p.Files.Clone()
	merged["game.js"] = "let score = 0;"
	first := newInteraction(p.ID, "add a score", time.Minute)
	first.Files = project.FileSet{"game.js": "let score = 0;"}
	if err := s.CommitPrompt(ctx, p.ID, merged, first); err != nil {
		t.Fatalf("CommitPrompt: %v", err)
	}
	second := newInteraction(p.ID, "make it faster", 2*time.Minute)
	if err := s.CommitPrompt(ctx, p.ID, merged, second); err != nil {
		t.Fatalf("CommitPrompt: %v", err)
	}

	got, err := s.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if diff := cmp.Diff(merged, got.Files); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}

	history, err := s.ListInteractions(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListInteractions: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(history))
	}
	if history[0].ID != first.ID || history[1].ID != second.ID {
		t.Errorf("history out of order: %s, %s", history[0].ID, history[1].ID)
	}
	if history[0].Prompt != "add a score" || history[0].Message != "done: add a score" {
		t.Errorf("unexpected interaction: %+v", history[0])
	}
	if diff := cmp.Diff(first.Files, history[0].Files); diff != "" {
		t.Errorf("interaction files mismatch (-want +got):\n%s", diff)
	}
	if history[0].ProjectID != p.ID {
		t.Errorf("ProjectID = %q, want %q", history[0].ProjectID, p.ID)
	}
}

func testCommitPromptMissingProject(t *testing.T, s storage.ProjectStore) {
	ctx := context.Background()
	id := api.NewProjectID()
	err := s.CommitPrompt(ctx, id, project.FileSet{"a.txt": "x"}, newInteraction(id, "x", 0))
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func testListOrderAndPagination(t *testing.T, s storage.ProjectStore) {
	ctx := context.Background()
	var ids []string
	for i := range 5 {
		p := NewProject(time.Duration(i) * time.Second)
		if err := s.CreateProject(ctx, p); err != nil {
			t.Fatalf("CreateProject: %v", err)
		}
		ids = append(ids, p.ID)
	}

	page, err := s.ListProjects(ctx, storage.ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if got := projectIDs(page); !cmp.Equal(got, []string{ids[4], ids[3]}) {
		t.Errorf("first page = %v, want newest two", got)
	}
	if !page.HasMore {
		t.Error("expected HasMore on first page")
	}

	page, err = s.ListProjects(ctx, storage.ListOptions{Limit: 2, After: page.LastID})
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if got := projectIDs(page); !cmp.Equal(got, []string{ids[2], ids[1]}) {
		t.Errorf("second page = %v", got)
	}

	page, err = s.ListProjects(ctx, storage.ListOptions{Order: "asc"})
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if got := projectIDs(page); !cmp.Equal(got, ids) {
		t.Errorf("asc = %v, want %v", got, ids)
	}
	if page.HasMore {
		t.Error("unexpected HasMore")
	}
}

func testReturnsCopies(t *testing.T, s storage.ProjectStore) {
	ctx := context.Background()
	p := NewProject(0)
	if err := s.CreateProject(ctx, p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	got, err := s.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	got.Files["index.html"] = "mutated"
	p.Files["index.html"] = "mutated too"

	again, err := s.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if diff := cmp.Diff(project.InitialFiles(project.RuntimeJavaScript), again.Files); diff != "" {
		t.Errorf("stored files changed through a returned value (-want +got):\n%s", diff)
	}
}

func newInteraction(projectID, prompt string, offset time.Duration) *project.Interaction {
	return &project.Interaction{
		ID:        api.NewInteractionID(),
		ProjectID: projectID,
		Prompt:    prompt,
		Message:   fmt.Sprintf("done: %s", prompt),
		Files:     project.FileSet{},
		Model:     "mock",
		CreatedAt: base.Add(time.Hour + offset),
	}
}

func projectIDs(list *storage.ProjectList) []string {
	ids := make([]string, len(list.Data))
	for i, p := range list.Data {
		ids[i] = p.ID
	}
	return ids
}
