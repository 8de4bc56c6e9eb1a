// Package jwt validates bearer JWTs issued by a learning platform or an
// OIDC provider.
//
// Two verification modes are supported: a shared HMAC secret (the usual
// setup for LMS launch tokens) and RSA keys published on a JWKS
// endpoint. The token's subject becomes the learner, its course claim the
// owner key shared by a class, and platform roles such as Instructor lift
// per-learner scoping.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/rhuss/vibe/pkg/auth"
)

// DefaultInstructorRoles are the LTI membership roles that grant the
// instructor scope. Full LTI role URIs match on their fragment.
var DefaultInstructorRoles = []string{"Instructor", "TeachingAssistant", "Administrator"}

// Config holds the JWT authenticator configuration.
type Config struct {
	// Issuer and Audience are validated when non-empty.
	Issuer   string
	Audience string

	// Secret enables HS256/HS384/HS512 verification. When set, JWKSURL
	// is ignored.
	Secret []byte

	// JWKSURL publishes the RSA keys used when no secret is set.
	JWKSURL string

	UserClaim   string // learner subject, default "sub"
	TenantClaim string // course or class, default "tenant_id"
	ScopesClaim string // space-separated string or array, default "scope"
	RolesClaim  string // platform roles, default "roles"
	TierClaim   string // rate limit tier, default "tier"

	// InstructorRoles lists roles that grant auth.ScopeInstructor.
	// Defaults to DefaultInstructorRoles.
	InstructorRoles []string

	// CacheTTL bounds how long fetched keys are trusted. Default 1h.
	CacheTTL time.Duration

	// MinRefresh is the shortest gap between two JWKS fetches triggered
	// by unknown key IDs. Default 30s.
	MinRefresh time.Duration

	HTTPClient *http.Client
}

func (c *Config) applyDefaults() {
	if c.UserClaim == "" {
		c.UserClaim = "sub"
	}
	if c.TenantClaim == "" {
		c.TenantClaim = "tenant_id"
	}
	if c.ScopesClaim == "" {
		c.ScopesClaim = "scope"
	}
	if c.RolesClaim == "" {
		c.RolesClaim = "roles"
	}
	if c.TierClaim == "" {
		c.TierClaim = "tier"
	}
	if c.InstructorRoles == nil {
		c.InstructorRoles = DefaultInstructorRoles
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.MinRefresh <= 0 {
		c.MinRefresh = 30 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// Authenticator validates JWT bearer tokens.
type Authenticator struct {
	config Config
	keys   *keySet
	parser *jwtlib.Parser
}

// New creates a JWT authenticator.
func New(cfg Config) *Authenticator {
	cfg.applyDefaults()
	a := &Authenticator{config: cfg}
	methods := []string{"RS256", "RS384", "RS512"}
	if len(cfg.Secret) > 0 {
		methods = []string{"HS256", "HS384", "HS512"}
	} else {
		a.keys = newKeySet(cfg.JWKSURL, cfg.HTTPClient, cfg.CacheTTL, cfg.MinRefresh)
	}
	opts := []jwtlib.ParserOption{jwtlib.WithValidMethods(methods), jwtlib.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(cfg.Audience))
	}
	a.parser = jwtlib.NewParser(opts...)
	return a
}

// Authenticate abstains without a bearer token, rejects a token that does
// not verify, and otherwise maps its claims onto an identity.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) auth.AuthResult {
	raw, ok := auth.BearerToken(r)
	if !ok {
		return auth.AuthResult{Decision: auth.Abstain}
	}
	if raw == "" {
		return auth.AuthResult{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	claims := jwtlib.MapClaims{}
	_, err := a.parser.ParseWithClaims(raw, claims, func(t *jwtlib.Token) (any, error) {
		return a.verificationKey(ctx, t)
	})
	if err != nil {
		slog.Debug("JWT rejected", "error", err)
		return auth.AuthResult{Decision: auth.No, Err: fmt.Errorf("invalid JWT: %w", err)}
	}

	id, err := a.identity(claims)
	if err != nil {
		return auth.AuthResult{Decision: auth.No, Err: err}
	}
	return auth.AuthResult{Decision: auth.Yes, Identity: id}
}

func (a *Authenticator) verificationKey(ctx context.Context, t *jwtlib.Token) (any, error) {
	if len(a.config.Secret) > 0 {
		return a.config.Secret, nil
	}
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("token has no kid header")
	}
	return a.keys.key(ctx, kid)
}

// identity builds the caller from verified claims.
func (a *Authenticator) identity(claims jwtlib.MapClaims) (*auth.Identity, error) {
	subject := claimString(claims, a.config.UserClaim)
	if subject == "" {
		return nil, fmt.Errorf("JWT missing %q claim", a.config.UserClaim)
	}
	id := &auth.Identity{
		Subject:     subject,
		ServiceTier: claimString(claims, a.config.TierClaim),
		Scopes:      claimStrings(claims, a.config.ScopesClaim),
		Metadata:    map[string]string{},
	}
	if tenant := claimString(claims, a.config.TenantClaim); tenant != "" {
		id.Metadata["tenant_id"] = tenant
	}
	if a.isInstructor(claimStrings(claims, a.config.RolesClaim)) && !id.HasScope(auth.ScopeInstructor) {
		id.Scopes = append(id.Scopes, auth.ScopeInstructor)
	}
	return id, nil
}

func (a *Authenticator) isInstructor(roles []string) bool {
	for _, role := range roles {
		if i := strings.LastIndexByte(role, '#'); i >= 0 {
			role = role[i+1:]
		}
		if slices.Contains(a.config.InstructorRoles, role) {
			return true
		}
	}
	return false
}

func claimString(claims jwtlib.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

// claimStrings reads a claim that is either a space-separated string or
// an array of strings.
func claimStrings(claims jwtlib.MapClaims, key string) []string {
	var out []string
	switch v := claims[key].(type) {
	case string:
		out = strings.Fields(v)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
