package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"nmea-relay/internal/channel"
	"nmea-relay/internal/config"
	"nmea-relay/internal/replay"
)

var replayT0 = time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)

func mustParseConfig(t *testing.T, yaml string) config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml), config.FormatYAML)
	if err != nil {
		t.Fatalf("config.Parse() error: %v", err)
	}
	return cfg
}

func writeReplayFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.nmea")
	body := replay.FormatRecord(replayT0, rmcLine) + "\n" +
		replay.FormatRecord(replayT0.Add(time.Second), ggaLine) + "\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func replayConfig(t *testing.T, path, extra string) config.Config {
	t.Helper()
	return mustParseConfig(t, fmt.Sprintf(`
source:
  kind: file
  file:
    path: %q
    speed: 1000
%s
decoder:
  enable: true
`, path, extra))
}

func cycleUntilDone(t *testing.T, r *relay) {
	t.Helper()
	for i := 0; i < 500; i++ {
		if err := r.cycle(); err != nil {
			t.Fatalf("cycle() error: %v", err)
		}
		if r.sess.Done() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("replay did not finish")
}

func TestRelay_ReplayToWriter(t *testing.T) {
	cfg := replayConfig(t, writeReplayFile(t), "")

	var out bytes.Buffer
	r, err := newRelay(cfg, zerolog.Nop(), &out)
	if err != nil {
		t.Fatalf("newRelay() error: %v", err)
	}
	defer r.Close()

	cycleUntilDone(t, r)

	got := out.String()
	for _, want := range []string{rmcLine + "\n", ggaLine + "\n", `"code":"GPRMC"`, `"code":"GNGGA"`} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Index(got, rmcLine) > strings.Index(got, ggaLine) {
		t.Fatalf("records out of order:\n%s", got)
	}
}

func TestRelay_ReplaySeek(t *testing.T) {
	path := writeReplayFile(t)
	cfg := replayConfig(t, path, fmt.Sprintf("    seek: %q", replayT0.Add(500*time.Millisecond).Format(time.RFC3339Nano)))

	var out bytes.Buffer
	r, err := newRelay(cfg, zerolog.Nop(), &out)
	if err != nil {
		t.Fatalf("newRelay() error: %v", err)
	}
	defer r.Close()

	cycleUntilDone(t, r)

	got := out.String()
	if strings.Contains(got, rmcLine) {
		t.Fatalf("record before seek target was replayed:\n%s", got)
	}
	if !strings.Contains(got, ggaLine) {
		t.Fatalf("output missing %q:\n%s", ggaLine, got)
	}
}

func TestRelay_SeekPastEndPlaysFromStart(t *testing.T) {
	path := writeReplayFile(t)
	cfg := replayConfig(t, path, fmt.Sprintf("    seek: %q", replayT0.Add(time.Hour).Format(time.RFC3339)))

	var out bytes.Buffer
	r, err := newRelay(cfg, zerolog.Nop(), &out)
	if err != nil {
		t.Fatalf("newRelay() error: %v", err)
	}
	defer r.Close()

	if now := r.vclock.Now(); now.After(replayT0.Add(time.Minute)) {
		t.Fatalf("clock=%s should fall back near the first record %s", now, replayT0)
	}

	cycleUntilDone(t, r)
	got := out.String()
	for _, want := range []string{rmcLine, ggaLine} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
}

func TestRelay_RunExitAtEnd(t *testing.T) {
	cfg := replayConfig(t, writeReplayFile(t), "")

	var out bytes.Buffer
	r, err := newRelay(cfg, zerolog.Nop(), &out)
	if err != nil {
		t.Fatalf("newRelay() error: %v", err)
	}
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.run(ctx, time.Millisecond, true); err != nil {
		t.Fatalf("run() error: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatalf("run() returned only after the deadline")
	}
	if !strings.Contains(out.String(), ggaLine) {
		t.Fatalf("output missing last record:\n%s", out.String())
	}
}

func TestRelay_ChannelSourceAndReload(t *testing.T) {
	cfg := mustParseConfig(t, "source:\n  kind: channel\n")

	var out bytes.Buffer
	r, err := newRelay(cfg, zerolog.Nop(), &out)
	if err != nil {
		t.Fatalf("newRelay() error: %v", err)
	}
	defer r.Close()

	r.rx.Push(rmcLine)
	r.rx.Push(ggaLine)
	r.up.Push("$PTEST,1")
	if err := r.cycle(); err != nil {
		t.Fatalf("cycle() error: %v", err)
	}
	got := out.String()
	for _, want := range []string{rmcLine + "\n", ggaLine + "\n", "$PTEST,1\n"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "$PTEST,1\r") {
		t.Fatalf("transmitted sentence kept its CRLF:\n%s", got)
	}

	reloaded := cfg
	reloaded.Filter = "GPRMC"
	reloaded.Verbose = true
	r.applyConfig(reloaded)
	if r.sess.Filter().String() != "GPRMC" {
		t.Fatalf("filter=%q want %q", r.sess.Filter().String(), "GPRMC")
	}

	out.Reset()
	r.rx.Push(rmcLine)
	r.rx.Push(ggaLine)
	if err := r.cycle(); err != nil {
		t.Fatalf("cycle() error: %v", err)
	}
	got = out.String()
	if !strings.Contains(got, rmcLine) {
		t.Fatalf("output missing %q:\n%s", rmcLine, got)
	}
	if strings.Contains(got, ggaLine) {
		t.Fatalf("filtered sentence forwarded:\n%s", got)
	}
}

func TestReplayOrigin(t *testing.T) {
	path := writeReplayFile(t)

	got, err := replayOrigin(config.FileConfig{Path: path})
	if err != nil {
		t.Fatalf("replayOrigin() error: %v", err)
	}
	if !got.Equal(replayT0) {
		t.Fatalf("origin=%s want %s", got, replayT0)
	}

	start := replayT0.Add(-time.Minute)
	got, err = replayOrigin(config.FileConfig{Path: path, Start: start.Format(time.RFC3339), Seek: replayT0.Format(time.RFC3339)})
	if err != nil {
		t.Fatalf("replayOrigin() error: %v", err)
	}
	if !got.Equal(start) {
		t.Fatalf("origin=%s want start %s", got, start)
	}

	empty := filepath.Join(t.TempDir(), "empty.nmea")
	if err := os.WriteFile(empty, []byte("# no records\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	before := time.Now().UTC()
	got, err = replayOrigin(config.FileConfig{Path: empty})
	if err != nil {
		t.Fatalf("replayOrigin() error: %v", err)
	}
	if got.Before(before) {
		t.Fatalf("origin=%s want >= %s for an empty file", got, before)
	}

	if _, err := replayOrigin(config.FileConfig{Path: filepath.Join(t.TempDir(), "missing.nmea")}); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestApplyRunFlags(t *testing.T) {
	channelCfg := mustParseConfig(t, "source:\n  kind: channel\n")
	flags := newRunCmd().Flags()
	if err := flags.Set("speed", "4"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := applyRunFlags(&channelCfg, flags, runOptions{speed: 4}); err == nil {
		t.Fatalf("expected --speed to be rejected for a channel source")
	}

	fileCfg := replayConfig(t, writeReplayFile(t), "")
	if err := applyRunFlags(&fileCfg, flags, runOptions{speed: 4}); err != nil {
		t.Fatalf("applyRunFlags() error: %v", err)
	}
	if fileCfg.Source.File.Speed != 4 {
		t.Fatalf("speed=%v want %v", fileCfg.Source.File.Speed, 4)
	}
	if err := applyRunFlags(&fileCfg, flags, runOptions{speed: -1}); err == nil {
		t.Fatalf("expected error for negative speed")
	}

	seekFlags := newRunCmd().Flags()
	if err := seekFlags.Set("seek", "yesterday"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := applyRunFlags(&fileCfg, seekFlags, runOptions{seek: "yesterday"}); err == nil {
		t.Fatalf("expected error for invalid --seek")
	}

	verboseFlags := newRunCmd().Flags()
	if err := verboseFlags.Set("verbose", "true"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := applyRunFlags(&channelCfg, verboseFlags, runOptions{verbose: true}); err != nil {
		t.Fatalf("applyRunFlags() error: %v", err)
	}
	if !channelCfg.Verbose {
		t.Fatalf("verbose flag not applied")
	}
}

func TestFeedLines(t *testing.T) {
	q := channel.New[string]("rx", 2)
	feedLines(strings.NewReader(rmcLine+"\r\n\n"+ggaLine+"\n$GPXTE,A\n"), q, zerolog.Nop())

	if q.Len() != 2 {
		t.Fatalf("len=%d want %d", q.Len(), 2)
	}
	if got, _ := q.Pop(); got != rmcLine {
		t.Fatalf("first=%q want %q", got, rmcLine)
	}
	if got, _ := q.Pop(); got != ggaLine {
		t.Fatalf("second=%q want %q", got, ggaLine)
	}
}
