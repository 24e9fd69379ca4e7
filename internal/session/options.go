package session

import (
	"io"

	"github.com/rs/zerolog"

	"nmea-relay/internal/metrics"
	"nmea-relay/internal/transport"
)

// Option configures a Session.
type Option func(*Session)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithClock sets the cycle clock. The default is the wall clock in UTC.
func WithClock(c Clock) Option {
	return func(s *Session) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithDownstream receives every accepted inbound sentence.
func WithDownstream(p Pusher) Option {
	return func(s *Session) { s.down = p }
}

// WithUpstream supplies outbound sentences, drained at the start of each
// cycle.
func WithUpstream(p Popper) Option {
	return func(s *Session) { s.up = p }
}

func WithDecoder(d Decoder) Option {
	return func(s *Session) { s.dec = d }
}

// WithData receives the records produced by the decoder.
func WithData(p DataPusher) Option {
	return func(s *Session) { s.data = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithEcho sets where a file replay session writes its outbound sentences.
// The default is stdout.
func WithEcho(w io.Writer) Option {
	return func(s *Session) {
		if w != nil {
			s.echo = w
		}
	}
}

// WithChannelSource wires the channel kind: sentences are popped from rx and
// outbound sentences are pushed to tx.
func WithChannelSource(rx Popper, tx Pusher) Option {
	return func(s *Session) {
		s.rx = rx
		s.tx = tx
	}
}

// WithStream uses an already open byte stream for the serial and udp kinds
// instead of opening one from the source config.
func WithStream(st transport.Stream) Option {
	return func(s *Session) { s.stream = st }
}
