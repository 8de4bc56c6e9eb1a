package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/preview"
	"github.com/rhuss/vibe/pkg/sandbox"
	"github.com/rhuss/vibe/pkg/transport"
)

// ProxyPrefix is the path under which the live sandbox process is served.
const ProxyPrefix = "/v1/preview/proxy/"

// staticCSP confines rendered documents to an opaque origin.
const staticCSP = "sandbox allow-scripts allow-forms allow-modals allow-popups"

// PreviewResponse is the body of POST /v1/projects/{id}/preview. Live
// outcomes carry the proxy path the browser should load.
type PreviewResponse struct {
	sandbox.Outcome
	ProxyURL string `json:"proxy_url,omitempty"`
}

func (a *API) handlePreview(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	p, err := a.store.GetProject(r.Context(), id)
	if err != nil {
		transport.WriteError(w, storeError(err, id))
		return
	}

	if a.previews == nil {
		doc, err := preview.Render(p.Files)
		if err != nil {
			transport.WriteError(w, err)
			return
		}
		transport.WriteJSON(w, http.StatusOK, PreviewResponse{Outcome: sandbox.Outcome{
			Mode:     sandbox.ModeStatic,
			Document: &doc,
			Reason:   api.ErrorTypeIsolationUnavailable,
			Detail:   "no sandbox runtime configured",
		}})
		return
	}

	outcome, err := a.previews.Preview(r.Context(), p.Files)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	resp := PreviewResponse{Outcome: outcome}
	if outcome.Mode == sandbox.ModeLive {
		resp.ProxyURL = ProxyPrefix + (&url.URL{Path: outcome.Entry}).EscapedPath()
	}
	transport.WriteJSON(w, http.StatusOK, resp)
}

func (a *API) handleStaticPreview(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	p, err := a.store.GetProject(r.Context(), id)
	if err != nil {
		transport.WriteError(w, storeError(err, id))
		return
	}
	doc, err := preview.Render(p.Files)
	if err != nil {
		transport.WriteError(w, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Content-Security-Policy", staticCSP)
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(doc.HTML))
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if a.previews == nil {
		transport.WriteAPIError(w, api.NewNotFoundError("no sandbox runtime configured"))
		return
	}
	s, ok := a.previews.Session()
	if !ok {
		transport.WriteAPIError(w, api.NewNotFoundError("no sandbox session"))
		return
	}
	transport.WriteJSON(w, http.StatusOK, s)
}

// proxyHandler forwards requests under ProxyPrefix to the address of the
// current sandbox session. Each request is bounded by ProxyTimeout.
func (a *API) proxyHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.previews == nil {
			transport.WriteError(w, api.NewIsolationUnavailableError("no sandbox runtime configured", nil))
			return
		}
		s, ok := a.previews.Session()
		if !ok || s.Address == "" {
			transport.WriteError(w, api.NewIsolationUnavailableError("no live preview is running", nil))
			return
		}
		target, err := url.Parse(s.Address)
		if err != nil || target.Host == "" {
			slog.Error("invalid sandbox address", "address", s.Address, "error", err)
			transport.WriteError(w, api.NewServerError("invalid sandbox address"))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), a.cfg.ProxyTimeout)
		defer cancel()

		proxy := &httputil.ReverseProxy{
			Rewrite: func(pr *httputil.ProxyRequest) {
				pr.Out.URL.Path = "/" + strings.TrimPrefix(pr.In.URL.Path, ProxyPrefix)
				pr.Out.URL.RawPath = ""
				pr.SetURL(target)
				pr.Out.Header.Del("Authorization")
				pr.Out.Header.Del("Cookie")
			},
			ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
				if errors.Is(err, context.DeadlineExceeded) {
					transport.WriteError(w, api.NewStartTimeoutError("preview request timed out"))
					return
				}
				slog.Warn("preview proxy failed", "session", s.ID, "error", err)
				transport.WriteError(w, api.NewTransportError("sandbox process unreachable", err))
			},
		}
		proxy.ServeHTTP(w, r.WithContext(ctx))
	})
}
