// Package system provides the process-wide lifecycle manager that starts and
// stops olav's components (capability registry, fleet engine, inspection
// orchestrator, knowledge store, session manager) in a deterministic order.
package system

import (
	"context"

	core "github.com/olavhq/olav/internal/core"
)

// Service is a lifecycle-managed component. Every olav component implements
// this so the manager can start and stop them deterministically.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// DescriptorProvider optionally advertises service metadata (layer, capabilities).
type DescriptorProvider interface {
	Descriptor() core.Descriptor
}
