package audit

import (
	"log/slog"
	"sync"

	"grimm.is/leasenet/internal/events"
	"grimm.is/leasenet/internal/logging"
)

// Recorder drains a hub subscription into the store under one run ID.
type Recorder struct {
	store  *Store
	runID  string
	events <-chan events.Event
	logger *slog.Logger

	wg      sync.WaitGroup
	written int64
	err     error
}

// NewRecorder subscribes to every event on hub. bufSize bounds how far the
// writer may fall behind before the hub starts dropping.
func NewRecorder(store *Store, runID string, hub *events.Hub, bufSize int, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.Default()
	}
	return &Recorder{
		store:  store,
		runID:  runID,
		events: hub.Subscribe(bufSize),
		logger: logger.WithComponent("journal").With("run_id", runID),
	}
}

// Start begins writing events in the background.
func (r *Recorder) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for e := range r.events {
			if err := r.store.Write(Convert(r.runID, e)); err != nil {
				if r.err == nil {
					r.err = err
				}
				r.logger.Error("journal write failed", "type", e.Type, "error", err)
				continue
			}
			r.written++
		}
	}()
}

// Wait blocks until the hub is closed and every buffered event is written.
// It returns the number written and the first write error.
func (r *Recorder) Wait() (int64, error) {
	r.wg.Wait()
	return r.written, r.err
}

// Convert flattens a hub event into a journal row.
func Convert(runID string, e events.Event) Event {
	evt := Event{
		RunID:     runID,
		Timestamp: e.Timestamp,
		Action:    string(e.Type),
		Source:    e.Source,
	}
	switch d := e.Data.(type) {
	case events.LeaseData:
		evt.Subject = d.Identity
		evt.Address = d.Address
		evt.Details = map[string]any{
			"hostname":   d.Hostname,
			"endpoint":   d.Endpoint,
			"expires_in": d.Expiry.Sub(e.Timestamp).String(),
		}
	case events.DNSData:
		evt.Subject = d.Hostname
		evt.Address = d.Address
	case events.BlockedData:
		evt.Subject = d.Identity
		evt.Details = map[string]any{"from": d.From, "reason": d.Reason}
	case events.PoolData:
		evt.Subject = d.Identity
	}
	return evt
}
