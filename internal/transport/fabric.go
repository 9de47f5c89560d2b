// Package transport delivers protocol messages between simulated endpoints.
//
// Delivery is scheduled on the event scheduler after a fixed latency, so a
// reply is never processed inside the handler that caused it. When the wire
// codec is enabled every message is encoded at send time and decoded at
// delivery, exercising the same bytes a real network would carry.
package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"grimm.is/leasenet/internal/clock"
	"grimm.is/leasenet/internal/logging"
	"grimm.is/leasenet/internal/protocol"
	"grimm.is/leasenet/internal/scheduler"
)

// Endpoint names a participant on the fabric.
type Endpoint string

// ErrDuplicateEndpoint is returned when an endpoint is registered twice.
var ErrDuplicateEndpoint = errors.New("endpoint already registered")

// Handler receives delivered messages.
type Handler interface {
	HandleMessage(from Endpoint, msg protocol.Message)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(from Endpoint, msg protocol.Message)

// HandleMessage calls f.
func (f HandlerFunc) HandleMessage(from Endpoint, msg protocol.Message) { f(from, msg) }

// Sender is what protocol participants use to talk to each other.
type Sender interface {
	Deliver(from, to Endpoint, msg protocol.Message)
}

// Options configures a Fabric.
type Options struct {
	Latency   time.Duration
	WireCodec bool
}

// Stats counts fabric activity.
type Stats struct {
	Sent      uint64
	Delivered uint64
	Dropped   uint64
	Bytes     uint64
}

// Fabric is a point-to-point message bus on top of a scheduler.
type Fabric struct {
	timers    scheduler.Timers
	opts      Options
	endpoints map[Endpoint]Handler
	stats     Stats
	logger    *slog.Logger
}

var _ Sender = (*Fabric)(nil)

// New creates a fabric.
func New(timers scheduler.Timers, opts Options, logger *logging.Logger) *Fabric {
	if logger == nil {
		logger = logging.Default()
	}
	return &Fabric{
		timers:    timers,
		opts:      opts,
		endpoints: make(map[Endpoint]Handler),
		logger:    logger.WithComponent("transport").Logger,
	}
}

// Register attaches a handler to an endpoint name.
func (f *Fabric) Register(ep Endpoint, h Handler) error {
	if _, ok := f.endpoints[ep]; ok {
		return fmt.Errorf("%s: %w", ep, ErrDuplicateEndpoint)
	}
	f.endpoints[ep] = h
	return nil
}

// Unregister detaches an endpoint. Messages already in flight to it are
// dropped on arrival.
func (f *Fabric) Unregister(ep Endpoint) {
	delete(f.endpoints, ep)
}

// Deliver schedules msg for delivery to the endpoint after the configured
// latency. Messages to unknown endpoints, or that fail to encode, are
// dropped and logged.
func (f *Fabric) Deliver(from, to Endpoint, msg protocol.Message) {
	f.stats.Sent++

	var frame []byte
	if f.opts.WireCodec {
		b, err := protocol.Encode(msg)
		if err != nil {
			f.drop(from, to, msg.Kind(), err)
			return
		}
		frame = b
		f.stats.Bytes += uint64(len(b))
	}

	f.timers.After(f.opts.Latency, "deliver "+string(msg.Kind()), func() {
		h, ok := f.endpoints[to]
		if !ok {
			f.drop(from, to, msg.Kind(), errors.New("no such endpoint"))
			return
		}

		out := msg
		if frame != nil {
			decoded, err := protocol.Decode(frame)
			if err != nil {
				f.drop(from, to, msg.Kind(), err)
				return
			}
			out = decoded
		}

		f.stats.Delivered++
		h.HandleMessage(from, out)
	})
}

func (f *Fabric) drop(from, to Endpoint, kind protocol.Kind, err error) {
	f.stats.Dropped++
	f.logger.Warn("message dropped",
		"sim_time", clock.Offset(f.timers.Now()),
		"from", from,
		"to", to,
		"kind", kind,
		"error", err)
}

// Stats returns a copy of the fabric counters.
func (f *Fabric) Stats() Stats {
	return f.stats
}
