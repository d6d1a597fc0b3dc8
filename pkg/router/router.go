package router

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/zen-systems/quorum/pkg/adapter"
	"github.com/zen-systems/quorum/pkg/config"
	"github.com/zen-systems/quorum/pkg/usage"
)

// RouteInfo describes one configured route.
type RouteInfo struct {
	Role          string
	Adapter       string
	Model         string // May be alias
	ResolvedModel string // Canonical model name
	Available     bool
}

// Router sends requests to the adapter behind a route target.
type Router struct {
	adapters map[string]adapter.Adapter
	aliases  *config.ModelAliases
	config   *config.RoutingConfig
	usage    *usage.Tracker
	logger   func(format string, args ...any)
	debug    bool
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithAliases sets the model aliases for the router.
func WithAliases(aliases *config.ModelAliases) RouterOption {
	return func(r *Router) {
		r.aliases = aliases
	}
}

// WithUsage records every call in tracker.
func WithUsage(tracker *usage.Tracker) RouterOption {
	return func(r *Router) {
		r.usage = tracker
	}
}

// WithLogger sets the logger.
func WithLogger(logger func(format string, args ...any)) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithDebug enables debug logging.
func WithDebug(debug bool) RouterOption {
	return func(r *Router) {
		r.debug = debug
	}
}

// NewRouter creates a new router with the given adapters and routing config.
func NewRouter(adapters map[string]adapter.Adapter, cfg *config.RoutingConfig, opts ...RouterOption) *Router {
	if cfg == nil {
		cfg = config.DefaultRoutingConfig()
	}
	r := &Router{
		adapters: adapters,
		config:   cfg,
		logger:   log.Printf,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Target returns the route configured for a backend tier, with its model
// alias resolved.
func (r *Router) Target(b Backend) config.RouteTarget {
	t, ok := r.config.Backends[b.String()]
	if !ok {
		t = config.DefaultRoutingConfig().Backends[b.String()]
	}
	return r.resolve(t)
}

// Send delivers req to target's adapter. req.Model is overwritten with the
// resolved model name.
func (r *Router) Send(ctx context.Context, target config.RouteTarget, req adapter.Request) (*adapter.Response, error) {
	target = r.resolve(target)
	a, ok := r.adapters[target.Adapter]
	if !ok || a == nil {
		return nil, fmt.Errorf("route %s: %w", target, adapter.ErrUnavailable)
	}

	req.Model = target.Model
	if r.debug {
		r.logger("[router] sending to %s", target)
	}
	resp, err := a.Generate(ctx, req)
	r.usage.Record(target.Adapter, target.Model, resp, err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", target, err)
	}
	return resp, nil
}

// GetAdapter returns an adapter by name.
func (r *Router) GetAdapter(name string) (adapter.Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Config returns the routing config.
func (r *Router) Config() *config.RoutingConfig {
	return r.config
}

// Usage returns the tracker calls are recorded in, if any.
func (r *Router) Usage() *usage.Tracker {
	return r.usage
}

// GetAliases returns the model aliases, if configured.
func (r *Router) GetAliases() *config.ModelAliases {
	return r.aliases
}

// GetRoutes returns every configured route sorted by role.
func (r *Router) GetRoutes() []RouteInfo {
	targets := r.config.Targets()
	roles := make([]string, 0, len(targets))
	for role := range targets {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	routes := make([]RouteInfo, 0, len(roles))
	for _, role := range roles {
		t := targets[role]
		_, ok := r.adapters[t.Adapter]
		routes = append(routes, RouteInfo{
			Role:          role,
			Adapter:       t.Adapter,
			Model:         t.Model,
			ResolvedModel: r.aliases.Resolve(t.Model),
			Available:     ok,
		})
	}
	return routes
}

// Check reports routes whose adapter is missing.
func (r *Router) Check() error {
	for _, route := range r.GetRoutes() {
		if !route.Available {
			return fmt.Errorf("route %s needs adapter %q: %w", route.Role, route.Adapter, adapter.ErrUnavailable)
		}
	}
	return nil
}

func (r *Router) resolve(t config.RouteTarget) config.RouteTarget {
	resolved := r.aliases.ResolveTarget(t)
	if r.debug && resolved.Model != t.Model {
		r.logger("[router] resolved alias %q -> %q", t.Model, resolved.Model)
	}
	return resolved
}
