package system

import (
	"context"
	"fmt"

	core "github.com/olavhq/olav/internal/core"
)

// Manager starts and stops a fixed list of Services in order: Start runs
// front-to-back, Stop runs back-to-front so a later component (which may
// depend on an earlier one, e.g. httpapi depending on the capability
// registry) is always torn down before its dependency.
type Manager struct {
	services []Service
}

// NewManager builds a Manager over services, in startup order.
func NewManager(services ...Service) *Manager {
	return &Manager{services: services}
}

// Start starts every service in order. If one fails, every service started
// so far is stopped (best-effort, in reverse order) before the error is
// returned, so a partial startup never leaves components running
// unsupervised.
func (m *Manager) Start(ctx context.Context) error {
	started := make([]Service, 0, len(m.services))
	for _, svc := range m.services {
		if err := svc.Start(ctx); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				_ = started[i].Stop(ctx)
			}
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
		started = append(started, svc)
	}
	return nil
}

// Stop stops every service in reverse startup order. It keeps going even if
// one service fails to stop, so a single stuck component never prevents the
// rest from shutting down, and returns the first error encountered.
func (m *Manager) Stop(ctx context.Context) error {
	var firstErr error
	for i := len(m.services) - 1; i >= 0; i-- {
		svc := m.services[i]
		if err := svc.Stop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stop %s: %w", svc.Name(), err)
		}
	}
	return firstErr
}

// Descriptors collects a core.Descriptor from every managed service that
// implements DescriptorProvider, in the same sorted order CollectDescriptors
// always presents them in -- the `status` CLI command's data source.
func (m *Manager) Descriptors() []core.Descriptor {
	providers := make([]DescriptorProvider, 0, len(m.services))
	for _, svc := range m.services {
		if p, ok := svc.(DescriptorProvider); ok {
			providers = append(providers, p)
		}
	}
	return CollectDescriptors(providers)
}
