package replay

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

var ErrSeekNotFound = errors.New("no record at or after seek time")

// RecordError describes a skipped log line.
type RecordError struct {
	Offset int64
	Err    error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("offset %d: %v", e.Offset, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// Player releases log records once a caller-supplied clock has reached their
// timestamp.
//
// The cursor never moves past a record that is not yet due: Next rewinds to
// the start of that record so a later call sees it again. Files are expected
// to be in timestamp order; malformed lines are reported through OnSkip and
// skipped.
type Player struct {
	rs     io.ReadSeeker
	closer io.Closer
	br     *bufio.Reader

	// off is the file offset of the next unread byte.
	off int64
	eof bool

	// last is the timestamp of the record just before the cursor.
	last     time.Time
	haveLast bool

	// err is a failure to position rs at the start, reported by every
	// later call.
	err error

	OnSkip func(err error)
}

// Open opens a replay log file.
func Open(path string) (*Player, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	p := NewPlayer(f)
	if p.err != nil {
		_ = f.Close()
		return nil, p.err
	}
	p.closer = f
	return p, nil
}

// NewPlayer reads records from rs starting at offset 0. If rs cannot be
// rewound, Next and Seek return that error.
func NewPlayer(rs io.ReadSeeker) *Player {
	p := &Player{rs: rs, br: bufio.NewReaderSize(rs, 4096)}
	p.err = p.seekTo(0)
	return p
}

// Done reports whether the last Next reached end of file.
func (p *Player) Done() bool { return p.eof }

// Offset returns the cursor position.
func (p *Player) Offset() int64 { return p.off }

func (p *Player) Close() error {
	if p.closer == nil {
		return nil
	}
	err := p.closer.Close()
	p.closer = nil
	return err
}

// Next returns the next record whose time is at or before now. It returns
// false when the next record is still in the future or the file is
// exhausted.
func (p *Player) Next(now time.Time) (Record, bool, error) {
	if p.err != nil {
		return Record{}, false, p.err
	}
	rec, start, err := p.readRecord()
	if err != nil {
		if errors.Is(err, io.EOF) {
			p.eof = true
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	p.eof = false
	if rec.At.After(now) {
		if err := p.seekTo(start); err != nil {
			return Record{}, false, err
		}
		return Record{}, false, nil
	}
	p.last = rec.At
	p.haveLast = true
	return rec, true, nil
}

// Seek positions the cursor just before the first record at or after
// target. When the last record passed is already at or after target the
// scan restarts from the beginning of the file. On ErrSeekNotFound the
// cursor is left where it was.
func (p *Player) Seek(target time.Time) error {
	if p.err != nil {
		return p.err
	}
	prevOff, prevLast, prevHave := p.off, p.last, p.haveLast

	if !p.haveLast || !p.last.Before(target) {
		if err := p.seekTo(0); err != nil {
			return err
		}
		p.haveLast = false
	}

	for {
		rec, start, err := p.readRecord()
		if err != nil {
			if rerr := p.seekTo(prevOff); rerr != nil {
				return rerr
			}
			p.last, p.haveLast = prevLast, prevHave
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: %s", ErrSeekNotFound, target.UTC().Format(TimeLayout))
			}
			return err
		}
		if !rec.At.Before(target) {
			p.eof = false
			return p.seekTo(start)
		}
		p.last = rec.At
		p.haveLast = true
	}
}

// readRecord returns the next well-formed record and the offset it starts at.
func (p *Player) readRecord() (Record, int64, error) {
	for {
		start := p.off
		line, err := p.br.ReadString('\n')
		p.off += int64(len(line))
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return Record{}, start, err
		}
		if skipLine(line) {
			continue
		}
		rec, perr := ParseRecord(line)
		if perr != nil {
			if p.OnSkip != nil {
				p.OnSkip(&RecordError{Offset: start, Err: perr})
			}
			continue
		}
		return rec, start, nil
	}
}

func (p *Player) seekTo(off int64) error {
	if _, err := p.rs.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("replay seek: %w", err)
	}
	p.br.Reset(p.rs)
	p.off = off
	return nil
}
