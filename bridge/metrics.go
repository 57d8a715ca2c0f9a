package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the bridge. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	bytesToDevice  prometheus.Counter
	bytesToClient  prometheus.Counter
	bytesDiscarded prometheus.Counter
	sessions       prometheus.Counter
	terminations   prometheus.Counter
	acceptErrors   prometheus.Counter
	openAttempts   prometheus.Counter
	openFailures   prometheus.Counter
	deviceFaults   prometheus.Counter
	sessionActive  prometheus.Gauge
	deviceOpen     prometheus.Gauge
}

// NewMetrics creates and registers the bridge metrics. It returns nil when
// registry is nil.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		return nil
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "serialbridge",
			Name:      name,
			Help:      help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "serialbridge",
			Name:      name,
			Help:      help,
		})
	}

	m := &Metrics{
		bytesToDevice:  counter("device_bytes_written_total", "Bytes written to the serial device"),
		bytesToClient:  counter("client_bytes_written_total", "Device bytes relayed to the network client"),
		bytesDiscarded: counter("device_bytes_discarded_total", "Device bytes dropped because no client was attached"),
		sessions:       counter("sessions_total", "Client sessions accepted"),
		terminations:   counter("session_terminations_total", "Sessions ended by the termination keyword"),
		acceptErrors:   counter("accept_errors_total", "Listener accept failures"),
		openAttempts:   counter("device_open_attempts_total", "Serial device open attempts"),
		openFailures:   counter("device_open_failures_total", "Serial device open failures"),
		deviceFaults:   counter("device_faults_total", "Serial read or write failures"),
		sessionActive:  gauge("session_active", "1 while a client session is attached"),
		deviceOpen:     gauge("device_open", "1 while the serial channel is open"),
	}

	registry.MustRegister(
		m.bytesToDevice, m.bytesToClient, m.bytesDiscarded,
		m.sessions, m.terminations, m.acceptErrors,
		m.openAttempts, m.openFailures, m.deviceFaults,
		m.sessionActive, m.deviceOpen,
	)
	return m
}

func (m *Metrics) wroteDevice(n int) {
	if m != nil {
		m.bytesToDevice.Add(float64(n))
	}
}

func (m *Metrics) wroteClient(n int) {
	if m != nil {
		m.bytesToClient.Add(float64(n))
	}
}

func (m *Metrics) discarded(n int) {
	if m != nil {
		m.bytesDiscarded.Add(float64(n))
	}
}

func (m *Metrics) sessionStarted() {
	if m != nil {
		m.sessions.Inc()
		m.sessionActive.Set(1)
	}
}

func (m *Metrics) sessionEnded(terminated bool) {
	if m != nil {
		m.sessionActive.Set(0)
		if terminated {
			m.terminations.Inc()
		}
	}
}

func (m *Metrics) acceptFailed() {
	if m != nil {
		m.acceptErrors.Inc()
	}
}

func (m *Metrics) openAttempt() {
	if m != nil {
		m.openAttempts.Inc()
	}
}

func (m *Metrics) openFailed() {
	if m != nil {
		m.openFailures.Inc()
	}
}

func (m *Metrics) deviceFault() {
	if m != nil {
		m.deviceFaults.Inc()
	}
}

func (m *Metrics) channelOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.deviceOpen.Set(1)
	} else {
		m.deviceOpen.Set(0)
	}
}
