package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/observability"
)

// Middleware creates HTTP middleware from an AuthChain and optional RateLimiter.
// It checks the bypass list, runs authentication, scopes storage to the
// identity's owner, and optionally enforces rate limits. Bypass entries
// ending in "/" match as path prefixes.
func Middleware(chain *AuthChain, limiter RateLimiter, bypassEndpoints []string) func(http.Handler) http.Handler {
	exact := make(map[string]bool, len(bypassEndpoints))
	var prefixes []string
	for _, ep := range bypassEndpoints {
		if strings.HasSuffix(ep, "/") {
			prefixes = append(prefixes, ep)
		} else {
			exact[ep] = true
		}
	}
	bypassed := func(path string) bool {
		if exact[path] {
			return true
		}
		for _, p := range prefixes {
			if strings.HasPrefix(path, p) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypassed(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			result := chain.Authenticate(r.Context(), r)

			if result.Decision != Yes || result.Identity == nil {
				slog.Warn("authentication failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", result.Err,
				)
				writeError(w, api.NewUnauthorizedError("authentication required"))
				return
			}

			if result.Identity.Subject == "" {
				slog.Error("authenticator returned identity with empty subject")
				writeError(w, api.NewServerError("internal authentication error"))
				return
			}

			slog.Debug("authentication succeeded",
				"subject", result.Identity.Subject,
				"path", r.URL.Path,
			)

			if limiter != nil {
				if err := limiter.Allow(r.Context(), result.Identity); err != nil {
					slog.Warn("rate limit exceeded",
						"subject", result.Identity.Subject,
						"tier", result.Identity.ServiceTier,
					)
					observability.RateLimitRejectedTotal.WithLabelValues(result.Identity.ServiceTier).Inc()
					writeError(w, api.NewTooManyRequestsError("rate limit exceeded, slow down a little"))
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), result.Identity)))
		})
	}
}

// DefaultBypassEndpoints lists endpoints that skip authentication. Live
// previews load inside an iframe that cannot send credentials.
var DefaultBypassEndpoints = []string{"/healthz", "/readyz", "/metrics", "/v1/preview/proxy/"}

func writeError(w http.ResponseWriter, apiErr *api.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(api.HTTPStatus(apiErr))
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: apiErr})
}
