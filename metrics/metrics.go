// Package metrics exposes Prometheus instrumentation for the DUL engine and
// C-STORE orchestrator, mirroring the counters the OtchereDev-ris-dicom-connector
// reference service registers for its own DICOM traffic. Collector is always
// constructed against a caller-supplied registry rather than the global
// prometheus default, keeping the core free of package-level state.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector bundles the counters/gauges the core updates as it runs
// associations and C-STORE requests.
type Collector struct {
	AssociationsOpened  prometheus.Counter
	AssociationsClosed  *prometheus.CounterVec // label "reason": normal|error|aborted
	PDUsSent            prometheus.Counter
	PDUsReceived        prometheus.Counter
	BytesSent           prometheus.Counter
	BytesReceived       prometheus.Counter
	CStoreRequestsTotal *prometheus.CounterVec // label "status"
	CStoreInFlight      prometheus.Gauge
}

// New registers and returns a Collector bound to reg. Passing a fresh
// *prometheus.Registry{} (or prometheus.NewRegistry()) is safe to call more
// than once in a process, e.g. once per test.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		AssociationsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dicom_associations_opened_total",
			Help: "Number of DICOM associations successfully negotiated.",
		}),
		AssociationsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dicom_associations_closed_total",
			Help: "Number of DICOM associations closed, by reason.",
		}, []string{"reason"}),
		PDUsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dicom_pdus_sent_total",
			Help: "Number of Upper Layer PDUs sent.",
		}),
		PDUsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dicom_pdus_received_total",
			Help: "Number of Upper Layer PDUs received.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dicom_bytes_sent_total",
			Help: "Number of bytes written to association sockets.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dicom_bytes_received_total",
			Help: "Number of bytes read from association sockets.",
		}),
		CStoreRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dicom_cstore_requests_total",
			Help: "C-STORE requests completed, by resulting status.",
		}, []string{"status"}),
		CStoreInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dicom_cstore_in_flight",
			Help: "C-STORE requests currently awaiting a response (0 or 1).",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			c.AssociationsOpened,
			c.AssociationsClosed,
			c.PDUsSent,
			c.PDUsReceived,
			c.BytesSent,
			c.BytesReceived,
			c.CStoreRequestsTotal,
			c.CStoreInFlight,
		)
	}
	return c
}

// Nop returns a Collector whose instruments are never registered, safe for
// callers that don't want metrics at all.
func Nop() *Collector {
	return New(nil)
}
