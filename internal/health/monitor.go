// Package health tracks store and bus availability and exposes it as the
// gRPC health service and the /health report.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/weiawesome/wes-chat/pkg/log"
)

// Monitored components.
const (
	ComponentStore = "store"
	ComponentBus   = "bus"
)

// Probe checks one dependency.
type Probe func(ctx context.Context) error

// Report is a point-in-time view of every component.
type Report struct {
	OK         bool
	Components map[string]ComponentStatus
}

type ComponentStatus struct {
	OK        bool
	Error     string
	CheckedAt time.Time
}

// Monitor aggregates component status. A component is degraded from the
// moment a caller reports a failure until its probe succeeds again.
type Monitor struct {
	service      string
	probeTimeout time.Duration
	server       *health.Server

	mu     sync.RWMutex
	probes map[string]Probe
	status map[string]ComponentStatus
	now    func() time.Time
}

// NewMonitor creates a monitor reporting under service and the overall
// ("") gRPC health name.
func NewMonitor(service string, probeTimeout time.Duration) *Monitor {
	m := &Monitor{
		service:      service,
		probeTimeout: probeTimeout,
		server:       health.NewServer(),
		probes:       make(map[string]Probe),
		status:       make(map[string]ComponentStatus),
		now:          time.Now,
	}
	m.publish(true)
	return m
}

// Server returns the gRPC health service backed by this monitor.
func (m *Monitor) Server() *health.Server {
	return m.server
}

// AddProbe registers a component probe. The component starts healthy.
func (m *Monitor) AddProbe(component string, probe Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[component] = probe
	if _, ok := m.status[component]; !ok {
		m.status[component] = ComponentStatus{OK: true, CheckedAt: m.now()}
	}
}

// MarkDegraded records a failure observed outside of a probe.
func (m *Monitor) MarkDegraded(component string, err error) {
	msg := "unavailable"
	if err != nil {
		msg = err.Error()
	}
	m.set(component, ComponentStatus{OK: false, Error: msg, CheckedAt: m.now()})
}

// MarkHealthy records a success observed outside of a probe.
func (m *Monitor) MarkHealthy(component string) {
	m.set(component, ComponentStatus{OK: true, CheckedAt: m.now()})
}

func (m *Monitor) set(component string, st ComponentStatus) {
	m.mu.Lock()
	prev, known := m.status[component]
	m.status[component] = st
	ok := m.allOKLocked()
	m.mu.Unlock()

	if known && prev.OK != st.OK {
		l := log.L()
		if st.OK {
			l.Info().Str(log.FieldComponent, component).Msg("component recovered")
		} else {
			l.Warn().Str(log.FieldComponent, component).Str("error", st.Error).Msg("component degraded")
		}
	}
	m.publish(ok)
}

func (m *Monitor) allOKLocked() bool {
	for _, st := range m.status {
		if !st.OK {
			return false
		}
	}
	return true
}

func (m *Monitor) publish(ok bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	m.server.SetServingStatus("", status)
	m.server.SetServingStatus(m.service, status)
}

// Check runs every probe once and returns the resulting report.
func (m *Monitor) Check(ctx context.Context) Report {
	m.mu.RLock()
	names := make([]string, 0, len(m.probes))
	probes := make(map[string]Probe, len(m.probes))
	for name, p := range m.probes {
		names = append(names, name)
		probes[name] = p
	}
	m.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
		err := probes[name](probeCtx)
		cancel()
		if err != nil {
			m.MarkDegraded(name, err)
		} else {
			m.MarkHealthy(name)
		}
	}
	return m.Report()
}

// Report returns the current status without probing.
func (m *Monitor) Report() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r := Report{OK: true, Components: make(map[string]ComponentStatus, len(m.status))}
	for name, st := range m.status {
		r.Components[name] = st
		if !st.OK {
			r.OK = false
		}
	}
	return r
}

// Healthy reports whether component is currently healthy. Unknown
// components count as healthy.
func (m *Monitor) Healthy(component string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.status[component]
	return !ok || st.OK
}

// Run probes every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Shutdown reports NOT_SERVING for every service.
func (m *Monitor) Shutdown() {
	m.server.Shutdown()
}
