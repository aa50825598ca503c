// Package adapter defines the source adapter contract (spec.md §4.2) and a
// compile-time registry adapters join via init(), in place of the teacher's
// closest analogue — the registrar maps in internal/extension_manager and
// internal/connector_manager — so a new upstream can be added by writing one
// package and importing it for side effects, without reflection-based
// discovery.
package adapter

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.banwarden.dev/banwarden/internal/models"
)

// Adapter fetches bans from one upstream (or a small family of sub-community
// upstreams sharing one transport) and yields canonical Ban values.
type Adapter interface {
	// Sources enumerates every BanSource this adapter owns, keyed by name.
	// Returned BanSource values are skeletons: ID is always zero, it is
	// filled in by the store once the row exists.
	Sources() map[string]models.BanSource

	// SupportsBanIDs reports whether this adapter's upstream exposes stable
	// per-ban identifiers (SourceBanID). It governs which identity-equality
	// relation the reconciler uses (spec.md §4.1).
	SupportsBanIDs() bool

	// FetchAll returns every currently-active and historical ban the
	// upstream exposes. Used for full refreshes.
	FetchAll(ctx context.Context) ([]models.Ban, error)

	// FetchNew returns a superset of recently-changed bans. Implementations
	// choose the cutoff; overshooting is safe, the reconciler is idempotent
	// on repeated inputs. Used for incremental refreshes.
	FetchNew(ctx context.Context) ([]models.Ban, error)
}

// Config is the per-source configuration an adapter factory receives,
// sourced from the `sources.<name>` section of the loaded configuration
// document (spec.md §6).
type Config map[string]string

// Factory builds an Adapter instance from its adapter-specific config
// section. A factory is registered once per adapter package, under the name
// operators use in their configuration (e.g. "ss_json", "html_table").
type Factory func(name string, cfg Config) (Adapter, error)

var (
	mu       sync.Mutex
	registry = map[string]Factory{}
)

// Register adds a factory to the compile-time registry. Adapter packages
// call this from their own init() so importing the package for side effects
// (a blank import in cmd/banwarden's import list) is enough to make it
// available.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[kind]; exists {
		panic(fmt.Sprintf("adapter: duplicate registration for kind %q", kind))
	}
	registry[kind] = f
}

// Kinds returns every registered adapter kind, sorted for deterministic
// bootstrap logging.
func Kinds() []string {
	mu.Lock()
	defer mu.Unlock()
	kinds := make([]string, 0, len(registry))
	for kind := range registry {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Build instantiates the adapter registered under kind with the given
// instance name and config. It is a ConfigurationError for the caller to
// supply an unregistered kind.
func Build(kind, name string, cfg Config) (Adapter, error) {
	mu.Lock()
	factory, ok := registry[kind]
	mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("adapter: unregistered kind %q (known kinds: %v)", kind, Kinds())
	}
	return factory(name, cfg)
}
