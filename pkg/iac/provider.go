package iac

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Provider turns IaC sources into a resource graph. Implementations must
// fail with a SourceError of class parse or variable; they never evaluate
// policies themselves.
type Provider interface {
	// Name returns the format name the provider handles (e.g. "terraform").
	Name() string

	// Parse reads sourceDir, applies varFiles in order, and builds the
	// graph for the given workspace.
	Parse(ctx context.Context, sourceDir string, varFiles []string, workspace string) (*Graph, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Provider)
)

// RegisterProvider makes a provider available under its format name.
// Called from provider package init functions.
func RegisterProvider(p Provider) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[p.Name()] = p
}

// GetProvider returns the provider for the given format name.
func GetProvider(name string) (Provider, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown IaC format %q (available: %v)", name, providerNames())
	}
	return p, nil
}

func providerNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
