// Package metrics defines the counters and gauges a simulation run emits.
//
// Every run owns its own prometheus.Registry so that repeated runs in one
// process (tests, batch sweeps) never share counters.
package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const namespace = "leasenet"

// Registry holds all leasenet metrics.
type Registry struct {
	// Lease lifecycle
	LeasesGranted  prometheus.Counter
	LeasesRenewed  prometheus.Counter
	LeasesExpired  prometheus.Counter
	LeasesReleased prometheus.Counter
	PoolExhausted  prometheus.Counter
	PoolAvailable  prometheus.Gauge
	ActiveLeases   prometheus.Gauge

	// Naming
	DNSRegistered prometheus.Counter
	DNSQueries    *prometheus.CounterVec

	// Admission and protocol errors
	Blocked   *prometheus.CounterVec
	Discarded *prometheus.CounterVec

	// Clients
	ClientIPAssigned     *prometheus.CounterVec
	ClientDNSQueriesSent *prometheus.CounterVec

	// Adversary
	Attacks        *prometheus.CounterVec
	AttacksBlocked *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers all metrics on reg. Passing nil creates a fresh registry.
func New(reg *prometheus.Registry) *Registry {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	r := &Registry{gatherer: reg}

	r.LeasesGranted = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "leases_granted_total",
		Help:      "Leases created by a REQUEST",
	})
	r.LeasesRenewed = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "leases_renewed_total",
		Help:      "Leases extended by a REQUEST from the holder",
	})
	r.LeasesExpired = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "leases_expired_total",
		Help:      "Leases reclaimed by their expiry timer",
	})
	r.LeasesReleased = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "leases_released_total",
		Help:      "Leases ended early by RELEASE",
	})
	r.PoolExhausted = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pool_exhausted_total",
		Help:      "DISCOVERs that found no free address",
	})
	r.PoolAvailable = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_available",
		Help:      "Addresses neither leased nor reserved",
	})
	r.ActiveLeases = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_leases",
		Help:      "Committed leases",
	})

	r.DNSRegistered = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dns_registered_total",
		Help:      "Name records written on commit or renewal",
	})
	r.DNSQueries = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dns_queries_total",
		Help:      "Name queries answered by the server",
	}, []string{"result"})

	r.Blocked = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "blocked_total",
		Help:      "Requests rejected with a blocked response",
	}, []string{"reason"})
	r.Discarded = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "discarded_total",
		Help:      "Messages dropped as invalid for the receiver's state",
	}, []string{"reason"})

	r.ClientIPAssigned = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "client_ip_assigned_total",
		Help:      "ACKs accepted by each client",
	}, []string{"client"})
	r.ClientDNSQueriesSent = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "client_dns_queries_sent_total",
		Help:      "Name queries sent by each client",
	}, []string{"client"})

	r.Attacks = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "attacks_total",
		Help:      "Adversary messages sent",
	}, []string{"mode"})
	r.AttacksBlocked = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "attacks_blocked_total",
		Help:      "Blocked responses received by the adversary",
	}, []string{"mode"})

	return r
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.gatherer
}

// Snapshot flattens every series into "name{label=value,...}" -> value.
// Series without labels use the bare metric name.
func (r *Registry) Snapshot() (map[string]float64, error) {
	families, err := r.gatherer.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}

	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			out[seriesName(mf.GetName(), m.GetLabel())] = value(mf.GetType(), m)
		}
	}
	return out, nil
}

// WriteText writes all metrics in the Prometheus text exposition format.
func (r *Registry) WriteText(w io.Writer) error {
	families, err := r.gatherer.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

func seriesName(name string, labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return name
	}
	parts := make([]string, 0, len(labels))
	for _, lp := range labels {
		parts = append(parts, lp.GetName()+"="+lp.GetValue())
	}
	sort.Strings(parts)
	return name + "{" + strings.Join(parts, ",") + "}"
}

func value(t dto.MetricType, m *dto.Metric) float64 {
	switch t {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue()
	case dto.MetricType_UNTYPED:
		return m.GetUntyped().GetValue()
	default:
		return 0
	}
}
