package integration

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/project"
	"github.com/rhuss/vibe/pkg/sandbox"
	"github.com/rhuss/vibe/pkg/storage"
	transporthttp "github.com/rhuss/vibe/pkg/transport/http"
)

func createProject(t *testing.T, key string, req transporthttp.CreateProjectRequest) project.Project {
	t.Helper()
	resp := do(t, http.MethodPost, "/v1/projects", key, req)
	expectStatus(t, resp, http.StatusCreated)
	var p project.Project
	decodeJSON(t, resp, &p)
	return p
}

func TestPromptCycle(t *testing.T) {
	p := createProject(t, aliceKey, transporthttp.CreateProjectRequest{Name: "Greeting"})
	if p.Owner != "alice" {
		t.Errorf("owner = %q, want alice", p.Owner)
	}

	resp := do(t, http.MethodPost, "/v1/projects/"+p.ID+"/prompts", aliceKey,
		transporthttp.SubmitPromptRequest{Prompt: "show a friendly greeting"})
	expectStatus(t, resp, http.StatusCreated)
	var result transporthttp.PromptResponse
	decodeJSON(t, resp, &result)

	if !strings.Contains(result.Files["index.html"], "show a friendly greeting") {
		t.Errorf("index.html = %q", result.Files["index.html"])
	}
	if result.Files["style.css"] != p.Files["style.css"] {
		t.Error("starter stylesheet was not carried over")
	}

	resp = do(t, http.MethodGet, "/v1/projects/"+p.ID, aliceKey, nil)
	expectStatus(t, resp, http.StatusOK)
	var stored project.Project
	decodeJSON(t, resp, &stored)
	if !stored.Files.Equal(result.Files) {
		t.Error("stored files differ from the prompt result")
	}

	resp = do(t, http.MethodGet, "/v1/projects/"+p.ID+"/interactions", aliceKey, nil)
	expectStatus(t, resp, http.StatusOK)
	var history transporthttp.InteractionList
	decodeJSON(t, resp, &history)
	if len(history.Data) != 1 || history.Data[0].Prompt != "show a friendly greeting" {
		t.Errorf("interactions = %+v", history.Data)
	}
}

func TestUnusableModelAnswerLeavesProjectUnchanged(t *testing.T) {
	p := createProject(t, aliceKey, transporthttp.CreateProjectRequest{Name: "Colors"})

	resp := do(t, http.MethodPost, "/v1/projects/"+p.ID+"/prompts", aliceKey,
		transporthttp.SubmitPromptRequest{Prompt: "make it purple [prose]"})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502: %s", resp.StatusCode, readBody(t, resp))
	}
	var errResp api.ErrorResponse
	decodeJSON(t, resp, &errResp)
	if errResp.Error.Type != api.ErrorTypeMalformedResponse {
		t.Errorf("error type = %q", errResp.Error.Type)
	}

	resp = do(t, http.MethodGet, "/v1/projects/"+p.ID, aliceKey, nil)
	var stored project.Project
	decodeJSON(t, resp, &stored)
	if !stored.Files.Equal(p.Files) {
		t.Error("files changed after an unusable answer")
	}

	resp = do(t, http.MethodGet, "/v1/projects/"+p.ID+"/interactions", aliceKey, nil)
	var history transporthttp.InteractionList
	decodeJSON(t, resp, &history)
	if len(history.Data) != 0 {
		t.Errorf("interaction recorded for a failed prompt: %+v", history.Data)
	}
}

func TestProjectsAreScopedToTheirOwner(t *testing.T) {
	p := createProject(t, bobKey, transporthttp.CreateProjectRequest{Name: "Bob's page"})

	resp := do(t, http.MethodGet, "/v1/projects/"+p.ID, aliceKey, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("other learner status = %d, want 404", resp.StatusCode)
	}

	resp = do(t, http.MethodPost, "/v1/projects/"+p.ID+"/prompts", aliceKey,
		transporthttp.SubmitPromptRequest{Prompt: "vandalize"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("prompt on another learner's project = %d, want 404", resp.StatusCode)
	}

	resp = do(t, http.MethodGet, "/v1/projects/"+p.ID, instructorKey, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("instructor status = %d, want 200", resp.StatusCode)
	}

	resp = do(t, http.MethodGet, "/v1/projects?limit=100", aliceKey, nil)
	var list storage.ProjectList
	decodeJSON(t, resp, &list)
	for _, other := range list.Data {
		if other.ID == p.ID {
			t.Error("another learner's project is listed")
		}
	}
}

func TestDeleteProject(t *testing.T) {
	p := createProject(t, aliceKey, transporthttp.CreateProjectRequest{Name: "Scratch"})

	resp := do(t, http.MethodDelete, "/v1/projects/"+p.ID, aliceKey, nil)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = do(t, http.MethodGet, "/v1/projects/"+p.ID+"/interactions", aliceKey, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("interactions after delete = %d, want 404", resp.StatusCode)
	}
}

func TestStaticPreview(t *testing.T) {
	p := createProject(t, aliceKey, transporthttp.CreateProjectRequest{
		Name: "Inline",
		Files: project.FileSet{
			"index.html": `<html><head><link rel="stylesheet" href="site.css"></head><body><h1>Hi</h1></body></html>`,
			"site.css":   "h1{color:teal}",
		},
	})

	resp := do(t, http.MethodGet, "/v1/projects/"+p.ID+"/preview/static", aliceKey, nil)
	expectStatus(t, resp, http.StatusOK)
	if csp := resp.Header.Get("Content-Security-Policy"); !strings.HasPrefix(csp, "sandbox") {
		t.Errorf("CSP = %q", csp)
	}
	body := readBody(t, resp)
	if !strings.Contains(body, "h1{color:teal}") {
		t.Errorf("stylesheet not inlined: %s", body)
	}
}

// TestLivePreview accepts either outcome: hosts without node or python3
// fall back to the static document.
func TestLivePreview(t *testing.T) {
	p := createProject(t, aliceKey, transporthttp.CreateProjectRequest{
		Name:  "Live",
		Files: project.FileSet{"index.html": "<p>served live</p>"},
	})

	resp := do(t, http.MethodPost, "/v1/projects/"+p.ID+"/preview", aliceKey, nil)
	expectStatus(t, resp, http.StatusOK)
	var outcome transporthttp.PreviewResponse
	decodeJSON(t, resp, &outcome)

	switch outcome.Mode {
	case sandbox.ModeStatic:
		if outcome.Document == nil || !strings.Contains(outcome.Document.HTML, "served live") {
			t.Errorf("static fallback without document: %+v", outcome)
		}
		t.Logf("sandbox unavailable, static fallback: %s", outcome.Reason)
	case sandbox.ModeLive:
		if outcome.ProxyURL != transporthttp.ProxyPrefix {
			t.Errorf("proxy_url = %q", outcome.ProxyURL)
		}
		// The proxy is reachable without credentials so iframes can load it.
		resp, err := http.Get(testEnv.BaseURL() + outcome.ProxyURL + "index.html")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "served live") {
			t.Errorf("proxy status = %d body = %q", resp.StatusCode, body)
		}
	default:
		t.Errorf("mode = %q", outcome.Mode)
	}
}
