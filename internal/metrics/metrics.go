// Package metrics exposes session counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nmea_relay"

// Metrics holds the counters for one device session. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	bytesReceived     prometheus.Counter
	readErrors        prometheus.Counter
	sentencesReceived prometheus.Counter
	sentencesAccepted prometheus.Counter
	sentencesFiltered prometheus.Counter
	sentencesDropped  prometheus.Counter
	sentencesSent     prometheus.Counter
	sendErrors        prometheus.Counter
	framingFaults     *prometheus.CounterVec
	recordsSkipped    prometheus.Counter
	decodedRecords    prometheus.Counter
	logErrors         prometheus.Counter
	replayLagSeconds  prometheus.Gauge
}

// New creates the session counters and registers them on reg. A nil
// registerer yields nil metrics.
func New(reg prometheus.Registerer, session string) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}
	labels := prometheus.Labels{"session": session}
	counter := func(subsystem, name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	m := &Metrics{
		bytesReceived:     counter("transport", "bytes_received_total", "Raw bytes read from the transport"),
		readErrors:        counter("transport", "read_errors_total", "Transport reads that failed"),
		sentencesReceived: counter("sentences", "received_total", "Sentences framed or replayed"),
		sentencesAccepted: counter("sentences", "accepted_total", "Sentences that passed the filter and were forwarded"),
		sentencesFiltered: counter("sentences", "filtered_total", "Sentences rejected by the filter"),
		sentencesDropped:  counter("sentences", "dropped_total", "Sentences dropped because the downstream channel was full"),
		sentencesSent:     counter("sentences", "sent_total", "Outbound sentences written to the transport"),
		sendErrors:        counter("sentences", "send_errors_total", "Outbound sentences that could not be written"),
		framingFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "framer",
			Name:        "faults_total",
			Help:        "Framing faults by reason",
			ConstLabels: labels,
		}, []string{"reason"}),
		recordsSkipped: counter("replay", "records_skipped_total", "Malformed replay records skipped"),
		decodedRecords: counter("decoder", "records_total", "Structured records produced by the decoder"),
		logErrors:      counter("log", "errors_total", "Session log open or write failures"),
		replayLagSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "replay",
			Name:        "lag_seconds",
			Help:        "Virtual clock minus the timestamp of the last released record",
			ConstLabels: labels,
		}),
	}

	for _, c := range []prometheus.Collector{
		m.bytesReceived, m.readErrors, m.sentencesReceived, m.sentencesAccepted, m.sentencesFiltered,
		m.sentencesDropped, m.sentencesSent, m.sendErrors, m.framingFaults,
		m.recordsSkipped, m.decodedRecords, m.logErrors, m.replayLagSeconds,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) BytesReceived(n int) {
	if m != nil && n > 0 {
		m.bytesReceived.Add(float64(n))
	}
}

func (m *Metrics) ReadError() {
	if m != nil {
		m.readErrors.Inc()
	}
}

func (m *Metrics) SentenceReceived() {
	if m != nil {
		m.sentencesReceived.Inc()
	}
}

func (m *Metrics) SentenceAccepted() {
	if m != nil {
		m.sentencesAccepted.Inc()
	}
}

func (m *Metrics) SentenceFiltered() {
	if m != nil {
		m.sentencesFiltered.Inc()
	}
}

func (m *Metrics) SentenceDropped() {
	if m != nil {
		m.sentencesDropped.Inc()
	}
}

func (m *Metrics) SentenceSent() {
	if m != nil {
		m.sentencesSent.Inc()
	}
}

func (m *Metrics) SendError() {
	if m != nil {
		m.sendErrors.Inc()
	}
}

func (m *Metrics) FramingFault(reason string) {
	if m != nil {
		m.framingFaults.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) RecordSkipped() {
	if m != nil {
		m.recordsSkipped.Inc()
	}
}

func (m *Metrics) DecodedRecord() {
	if m != nil {
		m.decodedRecords.Inc()
	}
}

func (m *Metrics) LogError() {
	if m != nil {
		m.logErrors.Inc()
	}
}

func (m *Metrics) ReplayLag(seconds float64) {
	if m != nil {
		m.replayLagSeconds.Set(seconds)
	}
}
