package startplan

import (
	"log/slog"

	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/debug"
	"github.com/rhuss/vibe/pkg/project"
)

// Strategy is one named rule for launching a file set. Match reports
// false when the rule does not apply.
type Strategy struct {
	Name  string
	Match func(files project.FileSet) (Plan, bool)
}

// Resolver applies strategies in order; the first match wins.
type Resolver struct {
	strategies []Strategy
}

// NewResolver creates a Resolver over the given strategies. With no
// arguments it uses DefaultStrategies.
func NewResolver(strategies ...Strategy) *Resolver {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Resolver{strategies: strategies}
}

// DefaultStrategies returns the built-in strategies in priority order.
func DefaultStrategies() []Strategy {
	return []Strategy{
		PackageJSON(),
		Replit(),
		Procfile(),
		ServerScript(),
		Static(),
	}
}

// Strategies returns the names of the configured strategies in order.
func (r *Resolver) Strategies() []string {
	names := make([]string, len(r.strategies))
	for i, s := range r.strategies {
		names[i] = s.Name
	}
	return names
}

// Resolve returns the plan of the first matching strategy, or a
// no_startable_target error.
func (r *Resolver) Resolve(files project.FileSet) (Plan, error) {
	for _, s := range r.strategies {
		plan, ok := s.Match(files)
		if !ok {
			debug.Log("sandbox", "start strategy skipped", "strategy", s.Name)
			continue
		}
		if plan.Strategy == "" {
			plan.Strategy = s.Name
		}
		slog.Debug("start plan resolved", "strategy", plan.Strategy, "kind", plan.Kind, "command", plan.String())
		return plan, nil
	}
	return Plan{}, api.NewNoStartableTargetError()
}

var defaultResolver = NewResolver()

// Resolve resolves files with the default strategies.
func Resolve(files project.FileSet) (Plan, error) {
	return defaultResolver.Resolve(files)
}
