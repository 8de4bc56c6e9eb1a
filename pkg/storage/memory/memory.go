// Package memory provides an in-memory implementation of storage.ProjectStore
// for testing and lightweight deployments. Projects are lost when the
// process restarts. Optional LRU eviction limits memory usage.
package memory

import (
	"cmp"
	"container/list"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rhuss/vibe/pkg/project"
	"github.com/rhuss/vibe/pkg/storage"
)

// entry holds a stored project and its history.
type entry struct {
	proj         project.Project
	interactions []*project.Interaction
	lruElem      *list.Element // position in LRU list
}

// Store is an in-memory ProjectStore with optional LRU eviction.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	lruList *list.List // front = most recently used, back = least recently used
	maxSize int        // 0 = unlimited
}

// Ensure Store implements storage.ProjectStore at compile time.
var _ storage.ProjectStore = (*Store)(nil)

// New creates a new in-memory store. If maxSize is 0, the store grows
// without limit. If maxSize > 0, the least recently used project is
// evicted when the limit is reached.
func New(maxSize int) *Store {
	return &Store{
		entries: make(map[string]*entry),
		lruList: list.New(),
		maxSize: maxSize,
	}
}

// CreateProject stores a copy of p, owned by the tenant in ctx.
func (s *Store) CreateProject(ctx context.Context, p *project.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[p.ID]; exists {
		return storage.ErrConflict
	}

	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		s.evictOldest()
	}

	p.Owner = storage.GetTenant(ctx)
	stored := *p
	stored.Files = p.Files.Clone()

	s.entries[p.ID] = &entry{
		proj:    stored,
		lruElem: s.lruList.PushFront(p.ID),
	}
	return nil
}

// GetProject returns a copy of the project.
func (s *Store) GetProject(ctx context.Context, id string) (*project.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	s.lruList.MoveToFront(e.lruElem)
	return copyProject(&e.proj), nil
}

// ListProjects returns a page of visible projects.
func (s *Store) ListProjects(ctx context.Context, opts storage.ListOptions) (*storage.ProjectList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*project.Project
	for _, e := range s.entries {
		if storage.Visible(ctx, e.proj.Owner) {
			matches = append(matches, copyProject(&e.proj))
		}
	}

	asc := opts.Order == "asc"
	slices.SortFunc(matches, func(a, b *project.Project) int {
		c := a.CreatedAt.Compare(b.CreatedAt)
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if asc {
			return c
		}
		return -c
	})

	if opts.After != "" {
		idx := slices.IndexFunc(matches, func(p *project.Project) bool { return p.ID == opts.After })
		if idx >= 0 {
			matches = matches[idx+1:]
		} else {
			matches = nil
		}
	}

	limit := opts.EffectiveLimit()
	if len(matches) > limit+1 {
		matches = matches[:limit+1]
	}
	return storage.NewProjectList(matches, limit), nil
}

// UpdateProject replaces the mutable fields of an existing project.
func (s *Store) UpdateProject(ctx context.Context, p *project.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(ctx, p.ID)
	if err != nil {
		return err
	}
	e.proj.Name = p.Name
	e.proj.Description = p.Description
	e.proj.Files = p.Files.Clone()
	e.proj.UpdatedAt = time.Now().UTC()
	s.lruList.MoveToFront(e.lruElem)

	p.UpdatedAt = e.proj.UpdatedAt
	return nil
}

// DeleteProject removes the project and its history.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	s.lruList.Remove(e.lruElem)
	delete(s.entries, id)
	return nil
}

// CommitPrompt replaces the project files and appends the interaction
// under a single lock.
func (s *Store) CommitPrompt(ctx context.Context, projectID string, files project.FileSet, in *project.Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(ctx, projectID)
	if err != nil {
		return err
	}

	stored := *in
	stored.ProjectID = projectID
	stored.Files = in.Files.Clone()

	e.proj.Files = files.Clone()
	e.proj.UpdatedAt = stored.CreatedAt
	e.interactions = append(e.interactions, &stored)
	s.lruList.MoveToFront(e.lruElem)
	return nil
}

// ListInteractions returns copies of the project's interactions, oldest first.
func (s *Store) ListInteractions(ctx context.Context, projectID string) ([]*project.Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, err := s.lookup(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]*project.Interaction, len(e.interactions))
	for i, in := range e.interactions {
		c := *in
		c.Files = in.Files.Clone()
		out[i] = &c
	}
	return out, nil
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// lookup finds a visible entry. Must be called with s.mu held.
func (s *Store) lookup(ctx context.Context, id string) (*entry, error) {
	e, ok := s.entries[id]
	if !ok || !storage.Visible(ctx, e.proj.Owner) {
		return nil, storage.ErrNotFound
	}
	return e, nil
}

// evictOldest removes the least recently used entry.
// Must be called with s.mu held.
func (s *Store) evictOldest() {
	back := s.lruList.Back()
	if back == nil {
		return
	}

	id := back.Value.(string)
	s.lruList.Remove(back)
	delete(s.entries, id)
}

func copyProject(p *project.Project) *project.Project {
	c := *p
	c.Files = p.Files.Clone()
	return &c
}
