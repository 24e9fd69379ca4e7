package replay

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const threeRecords = "1970-01-01T00:00:00.100Z $GPGGA,100\n" +
	"1970-01-01T00:00:00.200Z $GPGGA,200\n" +
	"1970-01-01T00:00:00.300Z $GPGGA,300\n"

func ms(v int64) time.Time { return time.UnixMilli(v) }

// drain collects every record released at now.
func drain(t *testing.T, p *Player, now time.Time) []string {
	t.Helper()
	var out []string
	for {
		rec, ok, err := p.Next(now)
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}
		if !ok {
			return out
		}
		out = append(out, rec.Sentence)
	}
}

func requireSentences(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %q want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %q want %q", got, want)
		}
	}
}

func TestPlayer_ReleasesByVirtualClock(t *testing.T) {
	p := NewPlayer(strings.NewReader(threeRecords))

	requireSentences(t, drain(t, p, ms(100)), "$GPGGA,100")
	requireSentences(t, drain(t, p, ms(250)), "$GPGGA,200")
	requireSentences(t, drain(t, p, ms(400)), "$GPGGA,300")
	if !p.Done() {
		t.Fatalf("expected Done after last record")
	}
}

func TestPlayer_ClockBeforeFirstRecordReleasesNothing(t *testing.T) {
	p := NewPlayer(strings.NewReader(threeRecords))
	requireSentences(t, drain(t, p, ms(99)))
	requireSentences(t, drain(t, p, ms(99)))
	if p.Offset() != 0 {
		t.Fatalf("offset=%d want 0", p.Offset())
	}
	requireSentences(t, drain(t, p, ms(100)), "$GPGGA,100")
}

func TestPlayer_BacklogReleasedInOneCall(t *testing.T) {
	p := NewPlayer(strings.NewReader(threeRecords))
	requireSentences(t, drain(t, p, ms(300)), "$GPGGA,100", "$GPGGA,200", "$GPGGA,300")
}

func TestPlayer_SkipsMalformedRecords(t *testing.T) {
	in := "1970-01-01T00:00:00.100Z $GPGGA,100\n" +
		"not-a-timestamp-at-all!! $GPGGA,bad\n" +
		"\n" +
		"# comment\n" +
		"1970-01-01T00:00:00.150Z " + "$" + strings.Repeat("L", 90) + "\n" +
		"1970-01-01T00:00:00.200Z $GPGGA,200"

	var skipped []error
	p := NewPlayer(strings.NewReader(in))
	p.OnSkip = func(err error) { skipped = append(skipped, err) }

	requireSentences(t, drain(t, p, ms(1000)), "$GPGGA,100", "$GPGGA,200")
	if len(skipped) != 2 {
		t.Fatalf("skipped=%v want 2 errors", skipped)
	}
	for _, err := range skipped {
		if !errors.Is(err, ErrMalformedRecord) {
			t.Fatalf("err=%v want ErrMalformedRecord", err)
		}
	}
}

func TestPlayer_SeekPositionsBeforeTarget(t *testing.T) {
	p := NewPlayer(strings.NewReader(threeRecords))
	if err := p.Seek(ms(250)); err != nil {
		t.Fatalf("Seek() error: %v", err)
	}
	requireSentences(t, drain(t, p, ms(1000)), "$GPGGA,300")
}

func TestPlayer_SeekExactTimestamp(t *testing.T) {
	p := NewPlayer(strings.NewReader(threeRecords))
	if err := p.Seek(ms(200)); err != nil {
		t.Fatalf("Seek() error: %v", err)
	}
	requireSentences(t, drain(t, p, ms(200)), "$GPGGA,200")
}

func TestPlayer_SeekBackwardsRescansFromStart(t *testing.T) {
	p := NewPlayer(strings.NewReader(threeRecords))
	requireSentences(t, drain(t, p, ms(300)), "$GPGGA,100", "$GPGGA,200", "$GPGGA,300")

	if err := p.Seek(ms(150)); err != nil {
		t.Fatalf("Seek() error: %v", err)
	}
	requireSentences(t, drain(t, p, ms(1000)), "$GPGGA,200", "$GPGGA,300")
}

func TestPlayer_SeekForwardFromMiddle(t *testing.T) {
	p := NewPlayer(strings.NewReader(threeRecords))
	requireSentences(t, drain(t, p, ms(100)), "$GPGGA,100")

	if err := p.Seek(ms(300)); err != nil {
		t.Fatalf("Seek() error: %v", err)
	}
	requireSentences(t, drain(t, p, ms(300)), "$GPGGA,300")
}

func TestPlayer_SeekNotFoundKeepsPosition(t *testing.T) {
	p := NewPlayer(strings.NewReader(threeRecords))
	requireSentences(t, drain(t, p, ms(100)), "$GPGGA,100")
	off := p.Offset()

	err := p.Seek(ms(5000))
	if !errors.Is(err, ErrSeekNotFound) {
		t.Fatalf("err=%v want ErrSeekNotFound", err)
	}
	if p.Offset() != off {
		t.Fatalf("offset=%d want %d", p.Offset(), off)
	}
	requireSentences(t, drain(t, p, ms(250)), "$GPGGA,200")
}

func TestOpen_FileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.nmea")
	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}
	for i, s := range []string{"$GPGGA,a", "$GPRMC,b", "!AIVDM,c"} {
		if err := w.WriteSentence(ms(int64(1000*(i+1))), s); err != nil {
			t.Fatalf("WriteSentence() error: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	p, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer p.Close()

	requireSentences(t, drain(t, p, ms(2000)), "$GPGGA,a", "$GPRMC,b")
	requireSentences(t, drain(t, p, ms(3000)), "!AIVDM,c")
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.nmea"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err=%v want ErrNotExist", err)
	}
}

type unseekable struct{ *strings.Reader }

var errNoSeek = errors.New("seek not supported")

func (unseekable) Seek(int64, int) (int64, error) { return 0, errNoSeek }

func TestPlayer_RewindFailureReported(t *testing.T) {
	p := NewPlayer(unseekable{strings.NewReader(threeRecords)})

	if _, ok, err := p.Next(ms(1000)); ok || !errors.Is(err, errNoSeek) {
		t.Fatalf("Next() ok=%v err=%v want %v", ok, err, errNoSeek)
	}
	if err := p.Seek(ms(200)); !errors.Is(err, errNoSeek) {
		t.Fatalf("Seek() err=%v want %v", err, errNoSeek)
	}
}
