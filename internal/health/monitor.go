// Package health implements the health monitor and fall-breaker (C11):
// a ticking probe over the maintenance client's HealthCheck, hysteresis
// before flipping the fall-breaker, and an escalating alarm level used
// purely for observability. Grounded on meta_store_monitor.cpp's
// MetaStoreMonitorActor (CheckMetaStoreStatus ticker,
// OnMetaStoreHealthy/OnMetaStoreUnhealthy alarm escalation,
// IncreaseUnHealthy/ResetUnHealthy fallbreak hysteresis) and the
// teacher's ticker-loop shape in internal/healthcheck/checker.go
// (mutex-guarded running flag, stopCh/stopOnce, Start blocking until
// Stop or context cancellation).
package health

import (
	"context"
	"sync"
	"time"

	"github.com/metastorehq/metastore-client/internal/maintenance"
	"github.com/metastorehq/metastore-client/internal/obslog"
)

// AlarmLevel mirrors metrics::AlarmLevel's OFF/MAJOR/CRITICAL
// escalation, used only to pick which metric to raise or resolve.
type AlarmLevel int

const (
	AlarmOff AlarmLevel = iota
	AlarmMajor
	AlarmCritical
)

func (l AlarmLevel) String() string {
	switch l {
	case AlarmMajor:
		return "MAJOR"
	case AlarmCritical:
		return "CRITICAL"
	default:
		return "OFF"
	}
}

// MaxMajorAlarmDuration is how long an alarm stays at MAJOR before
// escalating to CRITICAL, matching MAX_MAJOR_ALARM_MINUTES (despite the
// original constant's name, it's a count of seconds: 5*60).
const MaxMajorAlarmDuration = 5 * time.Minute

// MaxConnectWait bounds the initial CheckConnected probe, matching
// MAX_CONNECT_TIME.
const MaxConnectWait = 60 * time.Second

// Observer is notified whenever the fall-breaker flips: err is nil on
// recovery, non-nil (the health-check failure) once failedTimes crosses
// the configured threshold.
type Observer func(err error)

// MetricsSink receives alarm-level transitions for the root metrics
// surface to export; Monitor works fine with a nil sink (NewNopMetrics).
type MetricsSink interface {
	UnhealthyFiring(level AlarmLevel, message string)
	UnhealthyResolved(level AlarmLevel)
}

type nopMetrics struct{}

func (nopMetrics) UnhealthyFiring(AlarmLevel, string) {}
func (nopMetrics) UnhealthyResolved(AlarmLevel)       {}

// NewNopMetrics returns a MetricsSink that discards everything.
func NewNopMetrics() MetricsSink { return nopMetrics{} }

// Config tunes the ticker interval, per-probe timeout and fall-breaker
// hysteresis.
type Config struct {
	CheckInterval time.Duration
	Timeout       time.Duration
	// MaxTolerateFailedTimes is the number of consecutive failures
	// required before the fall-breaker trips (and notifies Observers);
	// zero means trip on every single failure.
	MaxTolerateFailedTimes uint32
}

// DefaultConfig mirrors MetaStoreMonitorParam's compiled-in constants.
func DefaultConfig() Config {
	return Config{
		CheckInterval:          10 * time.Second,
		Timeout:                8 * time.Second,
		MaxTolerateFailedTimes: 5,
	}
}

// Monitor periodically probes a maintenance client and exposes both an
// Observer-based fall-breaker notification and a synchronous HealthGate
// closure for the direct strategy packages to consult per-call.
type Monitor struct {
	client  maintenance.Strategy
	address string
	cfg     Config
	log     obslog.Logger
	metrics MetricsSink

	mu          sync.Mutex
	running     bool
	stopCh      chan struct{}
	stopOnce    sync.Once
	failedTimes uint32
	alarmLevel  AlarmLevel
	firingSince time.Time
	observers   []Observer
	unhealthy   bool
}

// New builds a Monitor over client. address is carried only for log
// messages, matching MetaStoreMonitorActor::address_.
func New(client maintenance.Strategy, address string, cfg Config, log obslog.Logger, metrics MetricsSink) *Monitor {
	if log == nil {
		log = obslog.NewNop()
	}
	if metrics == nil {
		metrics = NewNopMetrics()
	}
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = DefaultConfig().CheckInterval
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Monitor{client: client, address: address, cfg: cfg, log: log, metrics: metrics}
}

// RegisterHealthyObserver adds obs to the set notified on fall-breaker
// flips.
func (m *Monitor) RegisterHealthyObserver(obs Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, obs)
}

// CheckConnected blocks (bounded by MaxConnectWait) until the
// maintenance client reports connected, matching
// MetaStoreMonitor::CheckMetaStoreConnected's gate before StartMonitor
// is allowed to run.
func (m *Monitor) CheckConnected(ctx context.Context) error {
	deadline := time.Now().Add(MaxConnectWait)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if m.client.IsConnected() {
			return nil
		}
		if time.Now().After(deadline) {
			m.metrics.UnhealthyFiring(AlarmMajor, "msg: failed to connect")
			return errFailedToConnect
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// HealthGate returns a closure reporting whether the fall-breaker is
// currently tripped; wired into every direct strategy's constructor as
// its unhealthy gate.
func (m *Monitor) HealthGate() func() bool {
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.unhealthy
	}
}

// Start begins the periodic probe loop and binds the client's reconnect
// callback to trigger an immediate out-of-cycle probe, matching
// StartMonitor's AsyncAfter ticker plus BindReconnectedCallBack wiring.
// Blocks until ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.stopOnce = sync.Once{}
	m.mu.Unlock()

	recheck := make(chan struct{}, 1)
	m.client.BindReconnectedCallback(func(string) {
		select {
		case recheck <- struct{}{}:
		default:
		}
	})

	m.checkOnce(ctx)

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Stop()
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkOnce(ctx)
		case <-recheck:
			m.checkOnce(ctx)
		}
	}
}

// Stop ends the probe loop. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.running = false
}

func (m *Monitor) checkOnce(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	resp, err := m.client.HealthCheck(checkCtx)
	if err == nil {
		err = resp.Status
	}
	if err == nil {
		m.onHealthy()
		return
	}
	m.onUnhealthy(err)
}

func (m *Monitor) onHealthy() {
	m.mu.Lock()
	m.log.Debugf("success to check health of %s", m.address)
	switch m.alarmLevel {
	case AlarmMajor:
		m.metrics.UnhealthyResolved(AlarmMajor)
	case AlarmCritical:
		m.metrics.UnhealthyResolved(AlarmMajor)
		m.metrics.UnhealthyResolved(AlarmCritical)
	}
	m.alarmLevel = AlarmOff
	m.unhealthy = false

	fire := m.failedTimes >= m.cfg.MaxTolerateFailedTimes
	observers := append([]Observer(nil), m.observers...)
	failedTimes := m.failedTimes
	address := m.address
	m.failedTimes = 0
	m.mu.Unlock()

	if fire {
		m.log.Infof("health check of %s has already recovered after %d failures, notifying %d observers", address, failedTimes, len(observers))
		for _, obs := range observers {
			obs(nil)
		}
	}
}

func (m *Monitor) onUnhealthy(err error) {
	m.mu.Lock()
	m.log.Debugf("failed to check health of %s: %v", m.address, err)

	now := time.Now()
	switch m.alarmLevel {
	case AlarmOff:
		m.firingSince = now
		m.alarmLevel = AlarmMajor
		m.metrics.UnhealthyFiring(m.alarmLevel, err.Error())
	case AlarmMajor:
		if now.Sub(m.firingSince) > MaxMajorAlarmDuration {
			m.alarmLevel = AlarmCritical
		}
		m.metrics.UnhealthyFiring(m.alarmLevel, err.Error())
	case AlarmCritical:
		m.metrics.UnhealthyFiring(m.alarmLevel, err.Error())
	}

	m.failedTimes++
	failedTimes := m.failedTimes
	threshold := m.cfg.MaxTolerateFailedTimes
	fire := failedTimes >= threshold && (threshold == 0 || failedTimes%threshold == 0)
	if fire {
		m.unhealthy = true
	}
	observers := append([]Observer(nil), m.observers...)
	address := m.address
	m.mu.Unlock()

	if fire {
		m.log.Warnf("health check of %s has already failed %d times, notifying %d observers to trigger fallbreak", address, failedTimes, len(observers))
		for _, obs := range observers {
			obs(err)
		}
	}
}

// AlarmLevel reports the monitor's current alarm level; used by tests
// and diagnostics.
func (m *Monitor) AlarmLevel() AlarmLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alarmLevel
}

// IsUnhealthy reports whether the fall-breaker is currently tripped.
func (m *Monitor) IsUnhealthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unhealthy
}
