package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/project"
	"github.com/rhuss/vibe/pkg/transport"
)

// SubmitPromptRequest is the body of POST /v1/projects/{id}/prompts.
type SubmitPromptRequest struct {
	Prompt string `json:"prompt"`
}

// PromptResponse is the result of a committed prompt cycle.
type PromptResponse struct {
	Interaction *project.Interaction `json:"interaction"`
	Files       project.FileSet      `json:"files"`
}

const maxPromptLength = 20000

func (a *API) handleSubmitPrompt(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	var req SubmitPromptRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	if len(req.Prompt) > maxPromptLength {
		transport.WriteAPIError(w, api.NewInvalidRequestError("prompt", "prompt is too long"))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	release, ok := a.inflight.Acquire(id, cancel)
	if !ok {
		transport.WriteErrorResponse(w, &api.APIError{
			Type:    api.ErrorTypeInvalidRequest,
			Code:    "prompt_in_progress",
			Message: "A prompt is already running for this project. Wait for it to finish or cancel it.",
		}, http.StatusConflict)
		return
	}
	defer release()

	result, err := a.prompts.Submit(ctx, id, req.Prompt)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) && r.Context().Err() == nil {
			transport.WriteErrorResponse(w, &api.APIError{
				Type:    api.ErrorTypeInvalidRequest,
				Code:    "prompt_cancelled",
				Message: "The prompt was cancelled. The project was not changed.",
			}, http.StatusConflict)
			return
		}
		transport.WriteError(w, err)
		return
	}

	transport.WriteJSON(w, http.StatusCreated, PromptResponse{
		Interaction: result.Interaction,
		Files:       result.Files,
	})
}

func (a *API) handleCancelPrompt(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	// Visibility check: a caller may only cancel prompts on its own projects.
	if _, err := a.store.GetProject(r.Context(), id); err != nil {
		transport.WriteError(w, storeError(err, id))
		return
	}
	if !a.inflight.Cancel(id) {
		transport.WriteAPIError(w, api.NewNotFoundError("no prompt is running for project "+id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
