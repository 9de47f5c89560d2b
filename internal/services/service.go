// Package services defines the lifecycle shared by the simulated network's
// participants.
package services

import "context"

// ServiceStatus represents the current state of a service.
type ServiceStatus struct {
	Name    string `json:"name" yaml:"name"`
	Running bool   `json:"running" yaml:"running"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Service defines the standard lifecycle methods for all services.
type Service interface {
	// Name returns the unique name of the service.
	Name() string

	// Start arms the service's first scheduled work. It must not block.
	Start(ctx context.Context) error

	// Stop cancels any work the service still has scheduled.
	Stop(ctx context.Context) error

	// Status returns the current status of the service.
	Status() ServiceStatus
}
