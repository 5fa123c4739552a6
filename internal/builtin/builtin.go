// Package builtin holds the component types every host registers.
package builtin

import (
	"github.com/rdeforest/ClodWeave/internal/component"
	"github.com/rdeforest/ClodWeave/internal/coordinator"
	"github.com/rdeforest/ClodWeave/internal/registry"
)

// Register adds the echo and coordinator types to reg.
func Register(reg *registry.Registry, defaults coordinator.Defaults, runs coordinator.RunStore, events coordinator.EventPublisher) error {
	if err := reg.Register(EchoDescriptor(), func() component.Connector { return &Echo{} }); err != nil {
		return err
	}
	return reg.Register(coordinator.Descriptor(), func() component.Connector {
		return coordinator.New(defaults, runs, events)
	})
}
