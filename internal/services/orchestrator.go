package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"grimm.is/leasenet/internal/logging"
)

// Orchestrator manages the lifecycle of services. Services start in
// registration order and stop in reverse, so a run that registers the
// same services in the same order schedules its first events identically.
type Orchestrator struct {
	order  []Service
	byName map[string]Service
	logger *slog.Logger
}

// NewOrchestrator creates an empty orchestrator.
func NewOrchestrator(logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Orchestrator{
		byName: make(map[string]Service),
		logger: logger.WithComponent("orchestrator").Logger,
	}
}

// Register adds a service. Names must be unique.
func (o *Orchestrator) Register(svc Service) error {
	if _, ok := o.byName[svc.Name()]; ok {
		return fmt.Errorf("service %q already registered", svc.Name())
	}
	o.byName[svc.Name()] = svc
	o.order = append(o.order, svc)
	return nil
}

// Get returns a registered service by name.
func (o *Orchestrator) Get(name string) (Service, bool) {
	svc, ok := o.byName[name]
	return svc, ok
}

// Statuses returns the status of every service in registration order.
func (o *Orchestrator) Statuses() []ServiceStatus {
	statuses := make([]ServiceStatus, 0, len(o.order))
	for _, svc := range o.order {
		statuses = append(statuses, svc.Status())
	}
	return statuses
}

// StartAll starts every service. It stops at the first failure and
// returns it; services already started stay started.
func (o *Orchestrator) StartAll(ctx context.Context) error {
	for _, svc := range o.order {
		if err := svc.Start(ctx); err != nil {
			o.logger.Error("failed to start service", "service", svc.Name(), "error", err)
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
		o.logger.Debug("service started", "service", svc.Name())
	}
	return nil
}

// StopAll stops every service and returns the joined errors.
func (o *Orchestrator) StopAll(ctx context.Context) error {
	var errs []error
	for i := len(o.order) - 1; i >= 0; i-- {
		svc := o.order[i]
		if err := svc.Stop(ctx); err != nil {
			o.logger.Warn("failed to stop service", "service", svc.Name(), "error", err)
			errs = append(errs, fmt.Errorf("stop %s: %w", svc.Name(), err))
		}
	}
	return errors.Join(errs...)
}
