package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/project"
	"github.com/rhuss/vibe/pkg/storage"
	"github.com/rhuss/vibe/pkg/storage/storagetest"
)

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.ProjectStore {
		return New(0)
	})
}

func TestLRUEviction(t *testing.T) {
	s := New(2)
	ctx := context.Background()

	p1 := storagetest.NewProject(0)
	p2 := storagetest.NewProject(1)
	p3 := storagetest.NewProject(2)

	for _, p := range []*project.Project{p1, p2} {
		if err := s.CreateProject(ctx, p); err != nil {
			t.Fatalf("CreateProject: %v", err)
		}
	}

	// Touch p1 so p2 becomes the least recently used.
	if _, err := s.GetProject(ctx, p1.ID); err != nil {
		t.Fatalf("GetProject: %v", err)
	}

	if err := s.CreateProject(ctx, p3); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	if _, err := s.GetProject(ctx, p2.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("p2 should have been evicted, got %v", err)
	}
	for _, p := range []*project.Project{p1, p3} {
		if _, err := s.GetProject(ctx, p.ID); err != nil {
			t.Errorf("GetProject(%s): %v", p.ID, err)
		}
	}
}

func TestConcurrentCommits(t *testing.T) {
	s := New(0)
	ctx := context.Background()
	p := storagetest.NewProject(0)
	if err := s.CreateProject(ctx, p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			in := &project.Interaction{ID: api.NewInteractionID(), Prompt: "x", Files: project.FileSet{}}
			if err := s.CommitPrompt(ctx, p.ID, p.Files, in); err != nil {
				t.Errorf("CommitPrompt: %v", err)
			}
		}()
	}
	wg.Wait()

	history, err := s.ListInteractions(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListInteractions: %v", err)
	}
	if len(history) != 20 {
		t.Errorf("len(history) = %d, want 20", len(history))
	}
}
