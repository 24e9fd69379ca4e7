package replay

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"nmea-relay/internal/nmea"
)

// Log format: line-oriented text.
//
// - Blank lines ignored.
// - Lines starting with '#' ignored.
// - Data lines are: <timestamp> <sentence>
//   where timestamp is TimeLayout in UTC (fixed width) and sentence is the raw
//   NMEA text without its CRLF terminator.

// TimeLayout is the fixed-width record timestamp.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// TimestampWidth is the number of bytes the timestamp occupies on each line.
const TimestampWidth = len(TimeLayout)

var (
	ErrMalformedRecord = errors.New("malformed replay record")
	ErrWriterClosed    = errors.New("replay writer is closed")
)

type Record struct {
	At       time.Time
	Sentence string
}

// FormatRecord renders one log line without its newline.
func FormatRecord(at time.Time, sentence string) string {
	return at.UTC().Format(TimeLayout) + " " + strings.TrimRight(sentence, nmea.CRLF)
}

// ParseRecord parses one log line. Errors wrap ErrMalformedRecord.
func ParseRecord(line string) (Record, error) {
	line = strings.TrimRight(line, nmea.CRLF)
	if len(line) < TimestampWidth {
		return Record{}, fmt.Errorf("%w: line shorter than timestamp: %q", ErrMalformedRecord, line)
	}
	at, err := time.Parse(TimeLayout, line[:TimestampWidth])
	if err != nil {
		return Record{}, fmt.Errorf("%w: cannot decode time in %q: %v", ErrMalformedRecord, line, err)
	}
	sentence := strings.TrimLeft(line[TimestampWidth:], " ")
	if err := nmea.Validate(sentence); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return Record{At: at, Sentence: sentence}, nil
}

func skipLine(line string) bool {
	line = strings.TrimSpace(line)
	return line == "" || strings.HasPrefix(line, "#")
}

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadAll parses every record. Malformed lines are counted, not fatal.
func (rr *Reader) ReadAll() (recs []Record, malformed int, err error) {
	s := bufio.NewScanner(rr.r)
	s.Buffer(make([]byte, 0, 4096), 64*1024)

	recs = make([]Record, 0, 1024)
	for s.Scan() {
		line := s.Text()
		if skipLine(line) {
			continue
		}
		rec, perr := ParseRecord(line)
		if perr != nil {
			malformed++
			continue
		}
		recs = append(recs, rec)
	}
	if err := s.Err(); err != nil {
		return nil, malformed, err
	}
	return recs, malformed, nil
}

// FirstRecord returns the first well-formed record, or io.EOF when there is
// none.
func (rr *Reader) FirstRecord() (Record, error) {
	s := bufio.NewScanner(rr.r)
	s.Buffer(make([]byte, 0, 4096), 64*1024)
	for s.Scan() {
		line := s.Text()
		if skipLine(line) {
			continue
		}
		if rec, err := ParseRecord(line); err == nil {
			return rec, nil
		}
	}
	if err := s.Err(); err != nil {
		return Record{}, err
	}
	return Record{}, io.EOF
}

// Writer is the append-only session log. The backing file is created on the
// first WriteSentence (named after that record's time) unless Open was
// called earlier.
type Writer struct {
	dir  string
	name string

	f      *os.File
	w      *bufio.Writer
	path   string
	closed bool
}

// NewWriter returns a writer that will create <dir>/<name>_<unixms>.nmea.
func NewWriter(dir, name string) *Writer {
	if dir == "" {
		dir = "."
	}
	return &Writer{dir: dir, name: name}
}

// CreateWriter opens path for appending immediately.
func CreateWriter(path string) (*Writer, error) {
	ww := &Writer{dir: filepath.Dir(path), name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))}
	if err := ww.openPath(path); err != nil {
		return nil, err
	}
	return ww, nil
}

// FileName returns the log file name used for a session started at at.
func FileName(name string, at time.Time) string {
	return fmt.Sprintf("%s_%d.nmea", name, at.UnixMilli())
}

// Open creates the log file now. It is a no-op when already open.
func (ww *Writer) Open(at time.Time) error {
	if ww.closed {
		return ErrWriterClosed
	}
	if ww.f != nil {
		return nil
	}
	if err := os.MkdirAll(ww.dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	return ww.openPath(filepath.Join(ww.dir, FileName(ww.name, at)))
}

func (ww *Writer) openPath(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	ww.f = f
	ww.w = bufio.NewWriterSize(f, 16*1024)
	ww.path = path
	return nil
}

// IsOpen reports whether the backing file exists.
func (ww *Writer) IsOpen() bool { return ww.f != nil }

// Path is empty until the file is opened.
func (ww *Writer) Path() string { return ww.path }

func (ww *Writer) WriteSentence(at time.Time, sentence string) error {
	if ww.closed {
		return ErrWriterClosed
	}
	if ww.f == nil {
		if err := ww.Open(at); err != nil {
			return err
		}
	}
	if _, err := ww.w.WriteString(FormatRecord(at, sentence) + "\n"); err != nil {
		return err
	}
	return nil
}

func (ww *Writer) Flush() error {
	if ww.closed || ww.w == nil {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	if ww.closed {
		return nil
	}
	ww.closed = true
	if ww.f == nil {
		return nil
	}
	if err := ww.w.Flush(); err != nil {
		_ = ww.f.Close()
		return err
	}
	return ww.f.Close()
}
