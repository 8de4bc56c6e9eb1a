package noop

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/rhuss/vibe/pkg/auth"
)

func TestAuthenticate(t *testing.T) {
	a := &Authenticator{}
	res := a.Authenticate(context.Background(), httptest.NewRequest("GET", "/v1/projects", nil))
	if res.Decision != auth.Yes {
		t.Fatalf("decision = %v, want Yes", res.Decision)
	}
	if res.Identity.Subject != auth.AnonymousSubject {
		t.Errorf("subject = %q", res.Identity.Subject)
	}
	if owner := res.Identity.Owner(); owner != "" {
		t.Errorf("anonymous owner = %q, want unscoped", owner)
	}
}
