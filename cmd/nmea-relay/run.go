package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"nmea-relay/internal/channel"
	"nmea-relay/internal/clock"
	"nmea-relay/internal/config"
	"nmea-relay/internal/forward"
	"nmea-relay/internal/gps"
	"nmea-relay/internal/metrics"
	"nmea-relay/internal/replay"
	"nmea-relay/internal/session"
	"nmea-relay/internal/transport"
	"nmea-relay/internal/web"
)

type runOptions struct {
	configPath string
	seek       string
	speed      float64
	verbose    bool
	exitAtEnd  bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one device session until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logs := web.NewLogBuffer(2000)
			log := newLogger(cmd.ErrOrStderr(), logs)

			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := applyRunFlags(&cfg, cmd.Flags(), opts); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			r, err := newRelay(cfg, log, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer r.Close()

			if r.rx != nil {
				go feedLines(cmd.InOrStdin(), r.rx, log)
			}
			if cfg.Metrics.Listen != "" {
				go func() {
					log.Info().Str("listen", cfg.Metrics.Listen).Msg("http listening")
					if err := web.Serve(ctx, cfg.Metrics.Listen, r.httpHandler(logs)); err != nil {
						log.Error().Err(err).Msg("http server stopped")
					}
				}()
			}
			go func() {
				err := config.Watch(ctx, opts.configPath, r.applyConfig, func(err error) {
					log.Warn().Err(err).Msg("config reload failed")
				})
				if err != nil {
					log.Warn().Err(err).Msg("config watcher disabled")
				}
			}()

			log.Info().
				Str("kind", cfg.Source.Kind).
				Str("interval", cfg.Interval.String()).
				Msg("nmea-relay starting")
			err = r.run(ctx, cfg.Interval.Std(), opts.exitAtEnd)
			log.Info().Msg("nmea-relay stopping")
			return err
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "./nmea-relay.yaml", "Path to YAML or TOML config")
	f.StringVar(&opts.seek, "seek", "", "Replay: start at the first record at or after this RFC 3339 time")
	f.Float64Var(&opts.speed, "speed", 1, "Replay: clock speed multiplier")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Echo every sentence to the log")
	f.BoolVar(&opts.exitAtEnd, "exit-at-end", false, "Replay: exit once the log file is exhausted")
	return cmd
}

// applyRunFlags lets explicitly set flags override the config file.
func applyRunFlags(cfg *config.Config, flags *pflag.FlagSet, opts runOptions) error {
	if flags.Changed("verbose") {
		cfg.Verbose = opts.verbose
	}
	replayOnly := func(name string) error {
		if cfg.Source.File == nil {
			return fmt.Errorf("--%s requires source.kind file (got %q)", name, cfg.Source.Kind)
		}
		return nil
	}
	if flags.Changed("speed") {
		if err := replayOnly("speed"); err != nil {
			return err
		}
		if opts.speed <= 0 {
			return fmt.Errorf("--speed must be > 0")
		}
		cfg.Source.File.Speed = opts.speed
	}
	if flags.Changed("seek") {
		if err := replayOnly("seek"); err != nil {
			return err
		}
		if _, err := config.ParseTime(opts.seek); err != nil {
			return fmt.Errorf("--seek: %w", err)
		}
		cfg.Source.File.Seek = opts.seek
	}
	return nil
}

// relay wires one session to its queues, clock, publishers and metrics.
type relay struct {
	cfg    config.Config
	log    zerolog.Logger
	sess   *session.Session
	vclock *clock.Virtual
	reg    *prometheus.Registry
	dec    *gps.Decoder
	status *web.Status

	up  *channel.Queue[string]
	rx  *channel.Queue[string]
	pub forward.Publisher
	fwd []*forward.Forwarder
}

func newRelay(cfg config.Config, log zerolog.Logger, stdout io.Writer) (*relay, error) {
	r := &relay{cfg: cfg, log: log, status: web.NewStatus()}
	r.status.SetStatic(cfg.Name, cfg.Source.Kind, cfg.Interval.String())

	down := channel.New[string]("downstream", cfg.Queue.Downstream)
	r.up = channel.New[string]("upstream", cfg.Queue.Upstream)

	var m *metrics.Metrics
	if cfg.Metrics.Listen != "" {
		r.reg = prometheus.NewRegistry()
		r.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		var err error
		if m, err = metrics.New(r.reg, cfg.Name); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	opts := []session.Option{
		session.WithLogger(log),
		session.WithDownstream(down),
		session.WithUpstream(r.up),
		session.WithMetrics(m),
		session.WithEcho(stdout),
	}

	var data *channel.Queue[[]byte]
	if cfg.Decoder.Enable {
		data = channel.New[[]byte]("data", cfg.Queue.Data)
		r.dec = gps.NewDecoder()
		opts = append(opts, session.WithDecoder(r.dec), session.WithData(data))
	}

	var seekAt time.Time
	if f := cfg.Source.File; f != nil {
		origin, err := replayOrigin(*f)
		if err != nil {
			return nil, err
		}
		r.vclock = clock.NewVirtual(origin, f.Speed)
		opts = append(opts, session.WithClock(r.vclock))
		seekAt, _ = config.ParseTime(f.Seek)
	} else {
		opts = append(opts, session.WithClock(clock.Wall{}))
	}

	stdoutPub := forward.NewWriterPublisher(stdout)
	if cfg.Source.Kind == string(transport.KindChannel) {
		r.rx = channel.New[string]("rx", cfg.Queue.Downstream)
		tx := channel.New[string]("tx", cfg.Queue.Upstream)
		opts = append(opts, session.WithChannelSource(r.rx, tx))
		r.fwd = append(r.fwd, forward.New(stdoutPub, forward.Config{SentenceTopic: "tx"}, trimmed{tx}, nil, log))
	}

	if cfg.MQTT.Enabled() {
		mp, err := forward.DialMQTT(forward.MQTTConfig{Broker: cfg.MQTT.Broker, ClientID: cfg.MQTT.ClientID}, log)
		if err != nil {
			return nil, err
		}
		if cfg.MQTT.OutboundTopic != "" {
			if err := mp.SubscribeOutbound(cfg.MQTT.OutboundTopic, r.up.Push); err != nil {
				_ = mp.Close()
				return nil, err
			}
		}
		r.pub = mp
		r.fwd = append(r.fwd, forward.New(mp, forward.Config{
			SentenceTopic: cfg.MQTT.SentenceTopic,
			DataTopic:     cfg.MQTT.DataTopic,
		}, down, queueOrNil(data), log))
	} else {
		r.pub = stdoutPub
		r.fwd = append(r.fwd, forward.New(stdoutPub, forward.Config{
			SentenceTopic: "sentences",
			DataTopic:     "data",
		}, down, queueOrNil(data), log))
	}

	r.sess = session.New(session.Config{
		Name:    cfg.Name,
		Source:  cfg.Transport(),
		Filter:  cfg.SentenceFilter(),
		Verbose: cfg.Verbose,
		Log: session.LogConfig{
			Enable:   cfg.Log.Enable,
			Dir:      cfg.Log.Dir,
			Required: cfg.Log.Required,
		},
	}, opts...)
	if err := r.sess.Start(); err != nil {
		_ = r.pub.Close()
		return nil, fmt.Errorf("start session %s: %w", cfg.Name, err)
	}
	var fix func(time.Time) gps.Fix
	if r.dec != nil {
		fix = r.dec.Snapshot
	}
	r.status.SetSources(r.sess.Stats, fix)

	if !seekAt.IsZero() {
		if err := r.seek(seekAt); err != nil {
			r.Close()
			return nil, err
		}
	}
	return r, nil
}

// seek positions the replay at t and moves the virtual clock there. A target
// past the last record is not fatal: the replay keeps its position and the
// clock falls back to the origin it would have had without a seek.
func (r *relay) seek(t time.Time) error {
	err := r.sess.Seek(t)
	if err == nil {
		r.vclock.Set(t)
		return nil
	}
	if !errors.Is(err, replay.ErrSeekNotFound) {
		return fmt.Errorf("seek %s: %w", t.Format(time.RFC3339Nano), err)
	}

	f := *r.cfg.Source.File
	f.Seek = ""
	origin, oerr := replayOrigin(f)
	if oerr != nil {
		return oerr
	}
	r.log.Warn().Err(err).Time("origin", origin).Msg("seek target not in replay, playing from the current position")
	r.vclock.Set(origin)
	return nil
}

// queueOrNil keeps a nil queue from becoming a non-nil interface.
func queueOrNil(q *channel.Queue[[]byte]) forward.DataSource {
	if q == nil {
		return nil
	}
	return q
}

// trimmed strips the CRLF the session appends to outbound sentences before
// they are printed one per line.
type trimmed struct{ q *channel.Queue[string] }

func (t trimmed) Pop() (string, bool) {
	s, ok := t.q.Pop()
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s, ok
}

// replayOrigin picks where the virtual clock starts: the configured start,
// else the seek target, else the first record in the file.
func replayOrigin(f config.FileConfig) (time.Time, error) {
	if t, _ := config.ParseTime(f.Start); !t.IsZero() {
		return t, nil
	}
	if t, _ := config.ParseTime(f.Seek); !t.IsZero() {
		return t, nil
	}
	fh, err := os.Open(f.Path)
	if err != nil {
		return time.Time{}, fmt.Errorf("open replay %s: %w", f.Path, err)
	}
	defer fh.Close()
	rec, err := replay.NewReader(fh).FirstRecord()
	if errors.Is(err, io.EOF) {
		return time.Now().UTC(), nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read replay %s: %w", f.Path, err)
	}
	return rec.At, nil
}

// cycle runs the session once and forwards what it produced.
func (r *relay) cycle() error {
	err := r.sess.Proc()
	r.status.MarkTick(time.Now().UTC())
	for _, f := range r.fwd {
		// Publish failures are logged by the forwarder.
		_, _ = f.Drain()
	}
	return err
}

func (r *relay) run(ctx context.Context, interval time.Duration, exitAtEnd bool) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.cycle(); err != nil {
				return err
			}
			if exitAtEnd && r.sess.Done() {
				r.log.Info().Msg("replay finished")
				return nil
			}
		}
	}
}

// applyConfig hot-applies the settings a running session can change.
func (r *relay) applyConfig(c config.Config) {
	r.sess.SetFilter(c.SentenceFilter())
	r.sess.SetVerbose(c.Verbose)
	r.log.Info().
		Str("filter", c.SentenceFilter().String()).
		Bool("verbose", c.Verbose).
		Msg("config reloaded")
	if c.Source.Kind != r.cfg.Source.Kind || c.Name != r.cfg.Name {
		r.log.Warn().Msg("source and name changes take effect after a restart")
	}
}

func (r *relay) Close() {
	if err := r.sess.Close(); err != nil {
		r.log.Warn().Err(err).Msg("session close")
	}
	if r.pub != nil {
		_ = r.pub.Close()
	}
}

// feedLines pushes each input line to q until r is exhausted.
func feedLines(r io.Reader, q *channel.Queue[string], log zerolog.Logger) {
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := s.Text()
		if line == "" {
			continue
		}
		if !q.Push(line) {
			log.Warn().Str("sentence", line).Msg("input channel full, line dropped")
		}
	}
	if err := s.Err(); err != nil {
		log.Warn().Err(err).Msg("input read failed")
	}
}

// httpHandler serves status, recent logs and, when metrics are enabled, the
// session registry.
func (r *relay) httpHandler(logs *web.LogBuffer) http.Handler {
	var metricsHandler http.Handler
	if r.reg != nil {
		metricsHandler = promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
	}
	return web.Handler(r.status, logs, metricsHandler)
}
