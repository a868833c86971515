// Package sdk is the agent-facing kit compiled into agent plugins: the
// entrypoint registry the sandbox worker consumes after plugin.Open, the
// Toolbox that proxies tool calls to the host dispatcher, and the shared
// wire constants for the sandbox boundary.
package sdk

import (
	"context"
	"sort"
	"sync"
)

// Entrypoint is an agent function registered by a plugin's init. It receives
// the claim payload and call context built by the scheduler and returns the
// agent's answer as a JSON-safe map.
type Entrypoint func(ctx context.Context, tb *Toolbox, payload, callContext map[string]any) (map[string]any, error)

var (
	regMu    sync.RWMutex
	registry = make(map[string]Entrypoint)
)

// Register binds an entrypoint name to a function. Plugins call this from
// init; registering an existing name replaces it. Empty names and nil
// functions are ignored.
func Register(name string, fn Entrypoint) {
	if name == "" || fn == nil {
		return
	}
	regMu.Lock()
	registry[name] = fn
	regMu.Unlock()
}

// Lookup returns the entrypoint registered under name.
func Lookup(name string) (Entrypoint, bool) {
	regMu.RLock()
	fn, ok := registry[name]
	regMu.RUnlock()
	return fn, ok
}

// Entrypoints returns the registered names, sorted.
func Entrypoints() []string {
	regMu.RLock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	regMu.RUnlock()

	sort.Strings(names)
	return names
}

// Reset clears the registry. Tests only.
func Reset() {
	regMu.Lock()
	registry = make(map[string]Entrypoint)
	regMu.Unlock()
}
