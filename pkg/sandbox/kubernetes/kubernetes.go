// Package kubernetes implements a sandbox runtime that provisions a
// sandbox server pod through an agent-sandbox SandboxClaim and then talks
// to it with the remote runtime.
package kubernetes

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/client"

	extensionsv1alpha1 "sigs.k8s.io/agent-sandbox/extensions/api/v1alpha1"

	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/sandbox"
	"github.com/rhuss/vibe/pkg/sandbox/remote"
)

// Config configures the kubernetes runtime.
type Config struct {
	// Template is the SandboxTemplate the claims reference.
	Template string

	// Namespace holds the claims.
	Namespace string

	// ClaimTimeout bounds the wait for a claim to become ready.
	// Defaults to 60s.
	ClaimTimeout time.Duration

	// Port is the sandbox server port on the pod service. Defaults to 8080.
	Port int

	// RequestTimeout bounds each request to the sandbox server.
	RequestTimeout time.Duration
}

// Runtime boots sandboxes as agent-sandbox pods.
type Runtime struct {
	client  client.Client
	cfg     Config
	claimer *claimer
}

var _ sandbox.Runtime = (*Runtime)(nil)

// New creates a kubernetes runtime using c, whose scheme must include the
// types registered by NewScheme.
func New(c client.Client, cfg Config) *Runtime {
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = 60 * time.Second
	}
	if cfg.Port <= 0 {
		cfg.Port = 8080
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	return &Runtime{
		client: c,
		cfg:    cfg,
		claimer: &claimer{
			client:       c,
			template:     cfg.Template,
			namespace:    cfg.Namespace,
			timeout:      cfg.ClaimTimeout,
			pollInterval: 500 * time.Millisecond,
		},
	}
}

// Name returns "kubernetes".
func (r *Runtime) Name() string { return "kubernetes" }

// Preflight checks that the SandboxClaim API is served and readable in the
// configured namespace.
func (r *Runtime) Preflight(ctx context.Context) error {
	if r.cfg.Template == "" {
		return api.NewIsolationUnavailableError("no sandbox template configured", nil)
	}
	var claims extensionsv1alpha1.SandboxClaimList
	if err := r.client.List(ctx, &claims, client.InNamespace(r.cfg.Namespace), client.Limit(1)); err != nil {
		return api.NewIsolationUnavailableError("SandboxClaim API unavailable in namespace "+r.cfg.Namespace, err)
	}
	return nil
}

// Boot claims a sandbox pod and boots an instance on its server. Closing
// the instance releases the claim.
func (r *Runtime) Boot(ctx context.Context) (sandbox.Instance, error) {
	fqdn, release, err := r.claimer.acquire(ctx)
	if err != nil {
		return nil, err
	}

	serverURL := "http://" + net.JoinHostPort(fqdn, strconv.Itoa(r.cfg.Port))
	rt := remote.New(remote.Config{URL: serverURL, Timeout: r.cfg.RequestTimeout, Name: r.Name()})
	if err := rt.Preflight(ctx); err != nil {
		release()
		return nil, fmt.Errorf("sandbox pod %s: %w", fqdn, err)
	}
	inst, err := rt.Boot(ctx)
	if err != nil {
		release()
		return nil, err
	}
	return &claimedInstance{Instance: inst, release: release}, nil
}

// claimedInstance releases its SandboxClaim on Close.
type claimedInstance struct {
	sandbox.Instance
	release func()
}

func (c *claimedInstance) Close() error {
	err := c.Instance.Close()
	c.release()
	return err
}
