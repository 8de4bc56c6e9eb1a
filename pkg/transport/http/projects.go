package http

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/merge"
	"github.com/rhuss/vibe/pkg/project"
	"github.com/rhuss/vibe/pkg/storage"
	"github.com/rhuss/vibe/pkg/transport"
)

// CreateProjectRequest is the body of POST /v1/projects.
type CreateProjectRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Runtime     project.Runtime `json:"runtime,omitempty"`
	Files       project.FileSet `json:"files,omitempty"`
}

// UpdateProjectRequest is the body of PATCH /v1/projects/{id}. Absent
// fields are left unchanged; files replace the whole set.
type UpdateProjectRequest struct {
	Name        *string         `json:"name,omitempty"`
	Description *string         `json:"description,omitempty"`
	Files       project.FileSet `json:"files,omitempty"`
}

// InteractionList is the body of GET /v1/projects/{id}/interactions.
type InteractionList struct {
	Object string                 `json:"object"`
	Data   []*project.Interaction `json:"data"`
}

const maxNameLength = 200

func (a *API) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		transport.WriteAPIError(w, api.NewInvalidRequestError("name", "name is required"))
		return
	}
	if len(req.Name) > maxNameLength {
		transport.WriteAPIError(w, api.NewInvalidRequestError("name", "name is too long"))
		return
	}
	if req.Runtime == "" {
		req.Runtime = project.RuntimeJavaScript
	}
	if !req.Runtime.Valid() {
		transport.WriteAPIError(w, api.NewInvalidRequestError("runtime", "runtime must be python, javascript or node"))
		return
	}

	files := project.InitialFiles(req.Runtime)
	if len(req.Files) > 0 {
		files = merge.Merge(nil, req.Files)
	}

	now := a.now().UTC()
	p := &project.Project{
		ID:          api.NewProjectID(),
		Name:        req.Name,
		Description: req.Description,
		Runtime:     req.Runtime,
		Files:       files,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.CreateProject(r.Context(), p); err != nil {
		transport.WriteError(w, storeError(err, p.ID))
		return
	}

	slog.Info("project created", "project", p.ID, "runtime", p.Runtime, "files", len(p.Files))
	transport.WriteJSON(w, http.StatusCreated, p)
}

func (a *API) handleListProjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := storage.ListOptions{
		After: q.Get("after"),
		Order: q.Get("order"),
	}
	if opts.Order != "" && opts.Order != "asc" && opts.Order != "desc" {
		transport.WriteAPIError(w, api.NewInvalidRequestError("order", "order must be 'asc' or 'desc'"))
		return
	}
	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 1 {
			transport.WriteAPIError(w, api.NewInvalidRequestError("limit", "limit must be a positive integer"))
			return
		}
		opts.Limit = limit
	}

	list, err := a.store.ListProjects(r.Context(), opts)
	if err != nil {
		transport.WriteError(w, storeError(err, opts.After))
		return
	}
	transport.WriteJSON(w, http.StatusOK, list)
}

func (a *API) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	p, err := a.store.GetProject(r.Context(), id)
	if err != nil {
		transport.WriteError(w, storeError(err, id))
		return
	}
	transport.WriteJSON(w, http.StatusOK, p)
}

func (a *API) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	var req UpdateProjectRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}

	p, err := a.store.GetProject(r.Context(), id)
	if err != nil {
		transport.WriteError(w, storeError(err, id))
		return
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" || len(name) > maxNameLength {
			transport.WriteAPIError(w, api.NewInvalidRequestError("name", "name must be 1 to 200 characters"))
			return
		}
		p.Name = name
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.Files != nil {
		p.Files = merge.Merge(nil, req.Files)
	}

	if err := a.store.UpdateProject(r.Context(), p); err != nil {
		transport.WriteError(w, storeError(err, id))
		return
	}

	updated, err := a.store.GetProject(r.Context(), id)
	if err != nil {
		transport.WriteError(w, storeError(err, id))
		return
	}
	transport.WriteJSON(w, http.StatusOK, updated)
}

func (a *API) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	if err := a.store.DeleteProject(r.Context(), id); err != nil {
		transport.WriteError(w, storeError(err, id))
		return
	}
	a.inflight.Cancel(id)
	slog.Info("project deleted", "project", id)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListInteractions(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	items, err := a.store.ListInteractions(r.Context(), id)
	if err != nil {
		transport.WriteError(w, storeError(err, id))
		return
	}
	if items == nil {
		items = []*project.Interaction{}
	}
	transport.WriteJSON(w, http.StatusOK, InteractionList{Object: "list", Data: items})
}
