// Package session runs one NMEA 0183 device: it polls a single transport once
// per cycle, frames and filters inbound sentences, forwards them to the
// downstream channel, the decoder and the session log, and writes outbound
// sentences popped from the upstream channel.
//
// A Session is driven by an external scheduler calling Proc. Proc performs a
// bounded amount of work and never sleeps; replay pacing comes entirely from
// the Clock.
package session

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"nmea-relay/internal/metrics"
	"nmea-relay/internal/nmea"
	"nmea-relay/internal/replay"
	"nmea-relay/internal/transport"
)

var (
	ErrNotStarted     = errors.New("session not started")
	ErrAlreadyStarted = errors.New("session already started")
	ErrClosed         = errors.New("session closed")
	ErrNoChannel      = errors.New("channel source requires a receive channel")
)

// Pusher is the downstream side of a sentence channel. Push returns false
// when the channel cannot take the sentence.
type Pusher interface {
	Push(sentence string) bool
}

// Popper is the upstream side of a sentence channel.
type Popper interface {
	Pop() (string, bool)
}

// DataPusher receives structured decoder output.
type DataPusher interface {
	Push(record []byte) bool
}

// Decoder turns an accepted sentence into an optional structured record.
type Decoder interface {
	Decode(sentence string, at time.Time) ([]byte, bool)
}

// Clock supplies the time a cycle runs at. File replay releases records up
// to Now.
type Clock interface {
	Now() time.Time
}

type LogConfig struct {
	Enable bool
	Dir    string
	// Required makes Start fail when the log file cannot be created.
	Required bool
}

type Config struct {
	// Name identifies the session in diagnostics and log file names.
	Name    string
	Source  transport.Config
	Filter  nmea.Filter
	Verbose bool
	Log     LogConfig
}

const (
	// maxReadsPerCycle bounds transport reads in one Proc call.
	maxReadsPerCycle = 64
	serialReadSize   = 1024
)

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

type Session struct {
	cfg     Config
	log     zerolog.Logger
	clock   Clock
	metrics *metrics.Metrics

	down Pusher
	up   Popper
	data DataPusher
	dec  Decoder
	echo io.Writer

	// channel source
	rx Popper
	tx Pusher

	stream     transport.Stream
	openStream func(transport.Config) (transport.Stream, error)
	player     *replay.Player
	openPlayer func(path string) (*replay.Player, error)
	readBuf    []byte

	framer *nmea.Framer
	writer *replay.Writer
	logOff bool

	filter  atomic.Pointer[nmea.Filter]
	verbose atomic.Bool

	started bool
	closed  bool

	stats counters
}

// New prepares a session. Nothing is opened until Start.
func New(cfg Config, opts ...Option) *Session {
	if cfg.Name == "" {
		cfg.Name = "nmea"
	}
	if cfg.Filter == (nmea.Filter{}) {
		cfg.Filter = nmea.AcceptAll
	}
	s := &Session{
		cfg:        cfg,
		log:        zerolog.Nop(),
		clock:      wallClock{},
		echo:       os.Stdout,
		openStream: transport.OpenStream,
		openPlayer: replay.Open,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("session", cfg.Name).Logger()
	s.SetFilter(cfg.Filter)
	s.verbose.Store(cfg.Verbose)
	return s
}

func (s *Session) Name() string { return s.cfg.Name }

// Kind is the configured source kind.
func (s *Session) Kind() transport.Kind { return s.cfg.Source.Kind }

// Start opens the transport and, when logging is required, the log file.
// On failure everything opened so far is released.
func (s *Session) Start() error {
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}
	src := s.cfg.Source
	if err := src.Validate(); err != nil {
		return err
	}

	switch src.Kind {
	case transport.KindSerial, transport.KindUDP:
		if s.stream == nil {
			st, err := s.openStream(src)
			if err != nil {
				return err
			}
			s.stream = st
		}
		size := serialReadSize
		if src.Kind == transport.KindUDP {
			size = transport.MaxDatagram
		}
		s.readBuf = make([]byte, size)
	case transport.KindFile:
		p, err := s.openPlayer(src.File.Path)
		if err != nil {
			return fmt.Errorf("open replay %s: %w", src.File.Path, err)
		}
		p.OnSkip = s.onSkip
		s.player = p
	case transport.KindChannel:
		if s.rx == nil {
			return ErrNoChannel
		}
	}

	s.framer = nmea.NewFramer(s.onFault)

	if s.cfg.Log.Enable {
		s.writer = replay.NewWriter(s.cfg.Log.Dir, s.cfg.Name)
		if s.cfg.Log.Required {
			if err := s.writer.Open(s.clock.Now()); err != nil {
				s.releaseSource()
				s.writer = nil
				return fmt.Errorf("open session log: %w", err)
			}
		}
	}

	s.started = true
	ev := s.log.Info().Str("kind", string(src.Kind)).Str("filter", s.Filter().String())
	if s.writer != nil && s.writer.IsOpen() {
		ev = ev.Str("log", s.writer.Path())
	}
	ev.Msg("session started")
	return nil
}

// Proc runs one cycle: every pending outbound sentence is sent, then inbound
// data available right now is consumed. Transport read failures and
// per-sentence problems are diagnostics only; Proc returns an error when the
// session is not running or the replay file cannot be read.
func (s *Session) Proc() error {
	if s.closed {
		return ErrClosed
	}
	if !s.started {
		return ErrNotStarted
	}
	now := s.clock.Now()

	s.sendPending(now)

	var err error
	switch s.cfg.Source.Kind {
	case transport.KindSerial, transport.KindUDP:
		s.receiveStream(now)
	case transport.KindFile:
		err = s.receiveReplay(now)
	case transport.KindChannel:
		s.receiveChannel(now)
	}

	s.flushLog()
	return err
}

func (s *Session) receiveStream(now time.Time) {
	for i := 0; i < maxReadsPerCycle; i++ {
		n, err := s.stream.Read(s.readBuf)
		if err != nil {
			// A failed read ends the cycle like an empty one; the next
			// cycle polls the transport again.
			s.stats.readErrors.Add(1)
			s.metrics.ReadError()
			s.log.Warn().Err(err).Str("kind", string(s.cfg.Source.Kind)).Msg("transport read failed")
			return
		}
		if n == 0 {
			return
		}
		s.stats.bytesReceived.Add(uint64(n))
		s.metrics.BytesReceived(n)
		for _, sentence := range s.framer.FeedStream(s.readBuf[:n]) {
			s.accept(now, sentence)
		}
	}
}

func (s *Session) receiveReplay(now time.Time) error {
	for {
		rec, ok, err := s.player.Next(now)
		if err != nil {
			return fmt.Errorf("replay: %w", err)
		}
		if !ok {
			return nil
		}
		s.metrics.ReplayLag(now.Sub(rec.At).Seconds())
		s.accept(rec.At, rec.Sentence)
	}
}

func (s *Session) receiveChannel(now time.Time) {
	for {
		text, ok := s.rx.Pop()
		if !ok {
			return
		}
		sentence := strings.TrimRight(text, nmea.CRLF)
		if err := nmea.Validate(sentence); err != nil {
			s.stats.faults.Add(1)
			s.log.Warn().Err(err).Str("sentence", sentence).Msg("channel sentence rejected")
			continue
		}
		s.accept(now, sentence)
	}
}

// accept runs one framed sentence through the filter and its consumers.
func (s *Session) accept(at time.Time, sentence string) {
	s.stats.received.Add(1)
	s.metrics.SentenceReceived()

	if !s.Filter().Match(sentence) {
		s.stats.filtered.Add(1)
		s.metrics.SentenceFiltered()
		return
	}
	s.stats.accepted.Add(1)
	s.metrics.SentenceAccepted()

	if s.down != nil && !s.down.Push(sentence) {
		s.stats.dropped.Add(1)
		s.metrics.SentenceDropped()
		s.log.Warn().Str("sentence", sentence).Msg("downstream channel full, sentence dropped")
	}

	if s.dec != nil {
		if rec, ok := s.dec.Decode(sentence, at); ok {
			s.stats.decoded.Add(1)
			s.metrics.DecodedRecord()
			if s.data != nil && !s.data.Push(rec) {
				s.log.Warn().Str("code", nmea.Code(sentence)).Msg("data channel full, record dropped")
			}
		}
	}

	s.writeLog(at, sentence)
	s.echoVerbose(">", sentence)
}

// sendPending drains the upstream channel through the active transport.
func (s *Session) sendPending(now time.Time) {
	if s.up == nil {
		return
	}
	for {
		text, ok := s.up.Pop()
		if !ok {
			return
		}
		out, err := nmea.Terminate(text)
		if err != nil {
			s.stats.sendErrors.Add(1)
			s.metrics.SendError()
			s.log.Warn().Err(err).Str("text", text).Msg("outbound sentence rejected")
			continue
		}
		if err := s.send(out); err != nil {
			s.stats.sendErrors.Add(1)
			s.metrics.SendError()
			s.log.Error().Err(err).Str("sentence", strings.TrimRight(out, nmea.CRLF)).Msg("send failed")
			continue
		}
		s.stats.sent.Add(1)
		s.metrics.SentenceSent()
		s.writeLog(now, out)
		s.echoVerbose("<", strings.TrimRight(out, nmea.CRLF))
	}
}

func (s *Session) send(out string) error {
	switch s.cfg.Source.Kind {
	case transport.KindFile:
		// A replay has nowhere to transmit; the sentence is echoed instead.
		_, err := io.WriteString(s.echo, out)
		return err
	case transport.KindSerial, transport.KindUDP:
		_, err := s.stream.Write([]byte(out))
		return err
	case transport.KindChannel:
		if s.tx == nil {
			return fmt.Errorf("channel source has no transmit channel")
		}
		if !s.tx.Push(out) {
			return fmt.Errorf("transmit channel full")
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", transport.ErrUnknownKind, s.cfg.Source.Kind)
	}
}

func (s *Session) writeLog(at time.Time, sentence string) {
	if s.writer == nil || s.logOff {
		return
	}
	if err := s.writer.WriteSentence(at, sentence); err != nil {
		s.disableLog(err)
	}
}

func (s *Session) flushLog() {
	if s.writer == nil || s.logOff {
		return
	}
	if err := s.writer.Flush(); err != nil {
		s.disableLog(err)
	}
}

func (s *Session) disableLog(err error) {
	s.logOff = true
	s.metrics.LogError()
	s.log.Error().Err(err).Msg("session log failed, logging disabled")
}

func (s *Session) echoVerbose(dir, sentence string) {
	if s.verbose.Load() {
		s.log.Info().Msgf("%s %s %s", s.cfg.Name, dir, sentence)
	}
}

func (s *Session) onFault(err error) {
	s.stats.faults.Add(1)
	reason := "unknown"
	switch {
	case errors.Is(err, nmea.ErrBufferOverflow):
		reason = "overflow"
	case errors.Is(err, nmea.ErrSentenceTooLong):
		reason = "too_long"
	case errors.Is(err, nmea.ErrNullByte):
		reason = "null_byte"
	}
	s.metrics.FramingFault(reason)

	ev := s.log.Warn().Err(err).Str("reason", reason)
	var fe *nmea.FaultError
	if errors.As(err, &fe) && fe.Partial != "" {
		ev = ev.Str("partial", fe.Partial)
	}
	ev.Msg("framing fault")
}

func (s *Session) onSkip(err error) {
	s.stats.skipped.Add(1)
	s.metrics.RecordSkipped()
	ev := s.log.Warn().Err(err)
	var re *replay.RecordError
	if errors.As(err, &re) {
		ev = ev.Int64("offset", re.Offset)
	}
	ev.Msg("replay record skipped")
}

// Seek repositions a file replay to the first record at or after t. Other
// source kinds ignore it. replay.ErrSeekNotFound leaves the position
// unchanged.
func (s *Session) Seek(t time.Time) error {
	if s.cfg.Source.Kind != transport.KindFile {
		return nil
	}
	if !s.started || s.player == nil {
		return ErrNotStarted
	}
	if err := s.player.Seek(t); err != nil {
		s.log.Warn().Err(err).Time("target", t).Msg("seek failed")
		return err
	}
	s.log.Info().Time("target", t).Int64("offset", s.player.Offset()).Msg("replay repositioned")
	return nil
}

// Done reports whether a file replay has reached the end of its file.
func (s *Session) Done() bool {
	return s.player != nil && s.player.Done()
}

// SetFilter replaces the filter. It is safe to call while Proc runs on
// another goroutine.
func (s *Session) SetFilter(f nmea.Filter) {
	s.filter.Store(&f)
}

func (s *Session) Filter() nmea.Filter {
	if f := s.filter.Load(); f != nil {
		return *f
	}
	return nmea.AcceptAll
}

// SetVerbose toggles the per-sentence echo.
func (s *Session) SetVerbose(v bool) { s.verbose.Store(v) }

// LogPath is the session log file, empty until it is opened.
func (s *Session) LogPath() string {
	if s.writer == nil {
		return ""
	}
	return s.writer.Path()
}

// Close releases the transport and the log file. A partial sentence held by
// the framer is discarded.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	errs = append(errs, s.releaseSource())
	if s.writer != nil {
		errs = append(errs, s.writer.Close())
	}
	if s.framer != nil {
		s.framer.Reset()
	}
	if s.started {
		st := s.Stats()
		s.log.Info().
			Uint64("received", st.Received).
			Uint64("accepted", st.Accepted).
			Uint64("sent", st.Sent).
			Uint64("faults", st.Faults).
			Msg("session closed")
	}
	return errors.Join(errs...)
}

func (s *Session) releaseSource() error {
	var errs []error
	if s.stream != nil {
		errs = append(errs, s.stream.Close())
		s.stream = nil
	}
	if s.player != nil {
		errs = append(errs, s.player.Close())
		s.player = nil
	}
	return errors.Join(errs...)
}
