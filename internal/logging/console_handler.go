package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"grimm.is/leasenet/internal/brand"
)

// Attribute keys the console handler lifts out of the record into the
// line header.
const (
	componentKey = "component"
	simTimeKey   = "sim_time"
)

// ConsoleHandler is a slog.Handler that writes one human-readable line per
// record:
//
//	+1m40s leasenet[pid]: [info] dhcp: lease granted address=10.0.0.10
//
// The leading stamp is the record's sim_time attribute when it has one and
// the wall-clock time otherwise.
type ConsoleHandler struct {
	level slog.Leveler
	out   io.Writer
	mu    *sync.Mutex
	attrs []slog.Attr
}

// NewConsoleHandler creates a new ConsoleHandler.
func NewConsoleHandler(out io.Writer, opts *slog.HandlerOptions) *ConsoleHandler {
	h := &ConsoleHandler{out: out, mu: &sync.Mutex{}, level: slog.LevelInfo}
	if opts != nil && opts.Level != nil {
		h.level = opts.Level
	}
	return h
}

// Enabled reports whether the handler is enabled for this level.
func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// header collects the promoted attributes of one record. Record attributes
// override bound ones.
type header struct {
	component string
	simTime   string
}

func (hd *header) take(a slog.Attr) bool {
	switch a.Key {
	case componentKey:
		hd.component = strings.ToLower(a.Value.String())
	case simTimeKey:
		hd.simTime = "+" + a.Value.String()
	default:
		return false
	}
	return true
}

// Handle formats r and writes it as a single line.
func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	var hd header
	var rest []slog.Attr
	for _, a := range h.attrs {
		if !hd.take(a) {
			rest = append(rest, a)
		}
	}
	r.Attrs(func(a slog.Attr) bool {
		if !hd.take(a) {
			rest = append(rest, a)
		}
		return true
	})

	var sb strings.Builder
	if hd.simTime != "" {
		sb.WriteString(hd.simTime)
	} else {
		t := r.Time
		if t.IsZero() {
			t = time.Now()
		}
		sb.WriteString(t.Format(time.RFC3339))
	}
	fmt.Fprintf(&sb, " %s[%d]: [%s] ", brand.LowerName, os.Getpid(), strings.ToLower(r.Level.String()))
	if hd.component != "" {
		sb.WriteString(hd.component)
		sb.WriteString(": ")
	}
	sb.WriteString(r.Message)
	for _, a := range rest {
		sb.WriteByte(' ')
		writeAttr(&sb, a)
	}
	sb.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, sb.String())
	return err
}

func writeAttr(sb *strings.Builder, a slog.Attr) {
	sb.WriteString(a.Key)
	sb.WriteByte('=')
	val := a.Value.Resolve().String()
	if val == "" || strings.ContainsAny(val, " \t\n\"=") {
		val = fmt.Sprintf("%q", val)
	}
	sb.WriteString(val)
}

// WithAttrs returns a new handler with the given attributes.
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &ConsoleHandler{level: h.level, out: h.out, mu: h.mu, attrs: merged}
}

// WithGroup returns the handler unchanged; console output is flat.
func (h *ConsoleHandler) WithGroup(string) slog.Handler {
	return h
}
