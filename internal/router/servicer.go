package router

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"app_kernel/internal/controller"
)

// Servicer maps service names to constructor functions. It backs the
// name-based dispatch path: when pattern resolution finds no route for a
// path, the dispatcher may try the first path segment as a service name.
// Names are case-insensitive.
type Servicer struct {
	logger   *slog.Logger
	services map[string]controller.Factory
	frozen   atomic.Bool
}

// NewServicer returns an empty service registry.
func NewServicer(logger *slog.Logger) *Servicer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Servicer{
		logger:   logger,
		services: make(map[string]controller.Factory),
	}
}

// Register binds a name to a service factory. Duplicate names are rejected
// so a later registration cannot silently shadow an earlier one.
func (s *Servicer) Register(name string, factory controller.Factory) error {
	if s.frozen.Load() {
		return ErrTableFrozen
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return fmt.Errorf("router: service name is empty")
	}
	if factory == nil {
		return fmt.Errorf("router: service %q has no factory", name)
	}
	if _, exists := s.services[name]; exists {
		return fmt.Errorf("router: service %q already registered", name)
	}
	s.services[name] = factory
	s.logger.Debug("service registered", "service", name)
	return nil
}

// Resolve returns the factory registered under name.
func (s *Servicer) Resolve(name string) (controller.Factory, error) {
	factory, ok := s.services[strings.ToLower(name)]
	if !ok {
		return nil, &ServiceNotFoundError{Name: name}
	}
	return factory, nil
}

// Freeze closes registration.
func (s *Servicer) Freeze() {
	if s.frozen.CompareAndSwap(false, true) {
		s.logger.Debug("service registry frozen", "services", len(s.services))
	}
}

// Names lists registered service names, sorted.
func (s *Servicer) Names() []string {
	out := make([]string, 0, len(s.services))
	for name := range s.services {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
