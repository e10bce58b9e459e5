package scanner

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/dverhoef/scanwarden/api/schemas"
	"github.com/dverhoef/scanwarden/internal/config"
)

// Registry resolves scanner categories to their bound implementations.
type Registry struct {
	scanners map[schemas.Category]schemas.Scanner
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{scanners: make(map[schemas.Category]schemas.Scanner)}
}

// Register binds a scanner to its category, replacing any previous binding.
func (r *Registry) Register(s schemas.Scanner) {
	r.scanners[s.Category()] = s
}

// Lookup resolves a category. An unknown category is a configuration error.
func (r *Registry) Lookup(cat schemas.Category) (schemas.Scanner, error) {
	s, ok := r.scanners[cat]
	if !ok {
		return nil, fmt.Errorf("no scanner registered for category %q", cat)
	}
	return s, nil
}

// Categories returns the registered categories in a stable order.
func (r *Registry) Categories() []schemas.Category {
	out := make([]schemas.Category, 0, len(r.scanners))
	for cat := range r.scanners {
		out = append(out, cat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FromConfig builds a registry holding one ExecScanner per enabled category.
func FromConfig(cfg config.ScannersConfig, repo string, logger *zap.Logger) (*Registry, error) {
	registry := NewRegistry()
	for _, cat := range cfg.Enabled() {
		sc, ok := cfg.ByCategory(cat)
		if !ok {
			return nil, fmt.Errorf("category %q has no configuration block", cat)
		}
		target := sc.Target
		if target == "" {
			target = repo
		}
		registry.Register(NewExecScanner(cat, sc.Command, sc.Args, target, sc.Timeout, logger))
	}
	return registry, nil
}
