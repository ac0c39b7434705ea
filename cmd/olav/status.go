package main

import (
	core "github.com/olavhq/olav/internal/core"
	system "github.com/olavhq/olav/internal/system"
)

// statusProvider adapts app to internal/httpapi.StatusProvider: the
// control surface's /system/status and /healthz routes read process
// health through this, same as the `status` CLI command does directly
// against the app.
type statusProvider struct {
	a *app
}

func newStatusProvider(a *app) *statusProvider {
	return &statusProvider{a: a}
}

// Descriptors implements httpapi.StatusProvider.
func (s *statusProvider) Descriptors() []core.Descriptor {
	return system.CollectDescriptors(s.a.descriptorProviders())
}

// Health implements httpapi.StatusProvider: a free-form map of whatever
// each component considers worth surfacing for an operator or supervisor.
func (s *statusProvider) Health() map[string]any {
	health := map[string]any{
		"pool_connections": s.a.engine.PoolSnapshot(),
	}
	if errs := s.a.catalog.Errors(); len(errs) > 0 {
		byPath := map[string]string{}
		for path, err := range errs {
			byPath[path] = err.Error()
		}
		health["skill_errors"] = byPath
	}
	if s.a.db != nil {
		health["database"] = "connected"
		if err := s.a.db.Ping(); err != nil {
			health["database"] = "unreachable: " + err.Error()
		}
	} else {
		health["database"] = "in-memory"
	}
	if s.a.scheduler != nil {
		health["scheduler"] = "enabled"
	} else {
		health["scheduler"] = "disabled"
	}
	return health
}
