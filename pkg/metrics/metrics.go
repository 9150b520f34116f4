// Package metrics exposes the per-channel fault and receive counters as
// Prometheus metrics: a CounterVec registered once and incremented per
// event, rather than a custom Collector — these counters have no
// per-sample gauge state to collect on demand.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Fault names, used as the "fault" label value on cfdp_receive_faults_total.
const (
	FaultFileOpen         = "file_open"
	FaultFileRead         = "file_read"
	FaultFileWrite        = "file_write"
	FaultFileSeek         = "file_seek"
	FaultFileSizeMismatch = "file_size_mismatch"
	FaultCRCMismatch      = "crc_mismatch"
	FaultNakLimit         = "nak_limit"
	FaultAckLimit         = "ack_limit"
	FaultInactivityTimer  = "inactivity_timer"
)

// Counters holds the per-channel fault and receive counters.
type Counters struct {
	faults        *prometheus.CounterVec
	fileDataBytes *prometheus.CounterVec
	errors        *prometheus.CounterVec
}

// NewCounters creates a fresh, unregistered set of counters.
func NewCounters() *Counters {
	return &Counters{
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cfdp_receive_faults_total",
			Help: "Count of receive-side faults by channel and fault kind.",
		}, []string{"channel", "fault"}),
		fileDataBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cfdp_receive_file_data_bytes_total",
			Help: "Bytes of file data accepted by the file sink, by channel.",
		}, []string{"channel"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cfdp_receive_errors_total",
			Help: "Count of dropped or out-of-sequence PDUs, by channel.",
		}, []string{"channel"}),
	}
}

// MustRegister registers every metric with reg (typically
// prometheus.DefaultRegisterer).
func (c *Counters) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(c.faults, c.fileDataBytes, c.errors)
}

func chanLabel(chanNum int) string {
	return strconv.Itoa(chanNum)
}

// Fault increments the named fault counter for chanNum. name should be one
// of the Fault* constants.
func (c *Counters) Fault(chanNum int, name string) {
	c.faults.WithLabelValues(chanLabel(chanNum), name).Inc()
}

// AddFileDataBytes increments the file-data byte counter for chanNum by n.
func (c *Counters) AddFileDataBytes(chanNum int, n uint64) {
	c.fileDataBytes.WithLabelValues(chanLabel(chanNum)).Add(float64(n))
}

// IncError increments the dropped/out-of-sequence PDU counter for chanNum.
func (c *Counters) IncError(chanNum int) {
	c.errors.WithLabelValues(chanLabel(chanNum)).Inc()
}
