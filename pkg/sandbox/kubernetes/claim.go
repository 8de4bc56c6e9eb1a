package kubernetes

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	sandboxv1alpha1 "sigs.k8s.io/agent-sandbox/api/v1alpha1"
	extensionsv1alpha1 "sigs.k8s.io/agent-sandbox/extensions/api/v1alpha1"
)

// NewScheme returns a runtime.Scheme with the agent-sandbox types registered.
func NewScheme() (*runtime.Scheme, error) {
	scheme := runtime.NewScheme()
	if err := sandboxv1alpha1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("register sandbox types: %w", err)
	}
	if err := extensionsv1alpha1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("register extensions types: %w", err)
	}
	return scheme, nil
}

// claimer creates SandboxClaims and waits for the controller to bind them
// to a ready Sandbox.
type claimer struct {
	client       client.Client
	template     string
	namespace    string
	timeout      time.Duration
	pollInterval time.Duration
}

// acquire creates a SandboxClaim and returns the FQDN of its Sandbox
// service together with a release function that deletes the claim.
func (c *claimer) acquire(ctx context.Context) (string, func(), error) {
	claimName := generateClaimNameFn()

	claim := &extensionsv1alpha1.SandboxClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      claimName,
			Namespace: c.namespace,
			Labels:    map[string]string{"app.kubernetes.io/managed-by": "vibe"},
		},
		Spec: extensionsv1alpha1.SandboxClaimSpec{
			TemplateRef: extensionsv1alpha1.SandboxTemplateRef{
				Name: c.template,
			},
		},
	}

	if err := c.client.Create(ctx, claim); err != nil {
		return "", nil, fmt.Errorf("create SandboxClaim %q: %w", claimName, err)
	}
	slog.Debug("created SandboxClaim", "name", claimName, "namespace", c.namespace, "template", c.template)

	fqdn, err := c.waitForReady(ctx, claimName)
	if err != nil {
		c.deleteClaim(context.Background(), claimName)
		return "", nil, err
	}

	release := func() {
		c.deleteClaim(context.Background(), claimName)
	}
	slog.Info("sandbox claim bound", "name", claimName, "fqdn", fqdn)
	return fqdn, release, nil
}

// waitForReady polls the Sandbox named after the claim until its Ready
// condition is True and its service FQDN is set.
func (c *claimer) waitForReady(ctx context.Context, name string) (string, error) {
	deadline := time.After(c.timeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("context cancelled waiting for Sandbox %q: %w", name, ctx.Err())
		case <-deadline:
			return "", fmt.Errorf("timeout waiting for Sandbox %q to become ready (waited %s): %w", name, c.timeout, context.DeadlineExceeded)
		case <-ticker.C:
			sb := &sandboxv1alpha1.Sandbox{}
			key := types.NamespacedName{Name: name, Namespace: c.namespace}
			if err := c.client.Get(ctx, key, sb); err != nil {
				// The controller has not created it yet.
				slog.Debug("waiting for Sandbox", "name", name, "error", err.Error())
				continue
			}
			if isReady(sb) && sb.Status.ServiceFQDN != "" {
				return sb.Status.ServiceFQDN, nil
			}
		}
	}
}

// isReady checks if the Sandbox has a Ready condition set to True.
func isReady(sb *sandboxv1alpha1.Sandbox) bool {
	for _, c := range sb.Status.Conditions {
		if c.Type == string(sandboxv1alpha1.SandboxConditionReady) && c.Status == metav1.ConditionTrue {
			return true
		}
	}
	return false
}

// deleteClaim deletes a SandboxClaim. Errors are logged since this runs
// on release and cleanup paths.
func (c *claimer) deleteClaim(ctx context.Context, name string) {
	claim := &extensionsv1alpha1.SandboxClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: c.namespace,
		},
	}
	if err := c.client.Delete(ctx, claim); err != nil {
		slog.Warn("failed to delete SandboxClaim", "name", name, "namespace", c.namespace, "error", err.Error())
		return
	}
	slog.Debug("deleted SandboxClaim", "name", name, "namespace", c.namespace)
}

// generateClaimNameFn creates a unique SandboxClaim name. Replaced in tests.
var generateClaimNameFn = func() string {
	return "vibe-" + uuid.NewString()[:8]
}
