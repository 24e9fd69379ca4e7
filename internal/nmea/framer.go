package nmea

import (
	"errors"
	"fmt"
)

const (
	// MaxSentenceLen bounds a sentence from its sentinel up to (not including)
	// the carriage return.
	MaxSentenceLen = 82

	// BufferSize holds two maximal sentences with their terminators.
	BufferSize = 2 * (MaxSentenceLen + 1)
)

var (
	ErrBufferOverflow  = errors.New("nmea: chunk exceeds working buffer")
	ErrSentenceTooLong = errors.New("nmea: no terminator within sentence bound")
	ErrNullByte        = errors.New("nmea: null byte in stream")
)

// FaultError carries the partial data discarded by a framing fault.
type FaultError struct {
	Err     error
	Partial string
}

func (e *FaultError) Error() string {
	if e.Partial == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (discarded %q)", e.Err, e.Partial)
}

func (e *FaultError) Unwrap() error { return e.Err }

// Framer reassembles sentences from arbitrarily split byte chunks.
//
// Bytes before a sentinel ('!' or '$') are dropped, a sentence ends at CR, and
// a sentence in progress survives across Feed calls. A Framer is not safe for
// concurrent use.
type Framer struct {
	buf  [BufferSize]byte
	head int
	tail int

	acc        [MaxSentenceLen]byte
	accLen     int
	inSentence bool

	// OnFault is called for every framing fault. The framer has already
	// recovered when it is called.
	OnFault func(err error)
}

// NewFramer returns an empty framer reporting faults to onFault (may be nil).
func NewFramer(onFault func(err error)) *Framer {
	return &Framer{OnFault: onFault}
}

// Free is the number of bytes the next Feed may append.
func (f *Framer) Free() int {
	return len(f.buf) - f.tail
}

// Pending reports the length of a partially received sentence.
func (f *Framer) Pending() int {
	if !f.inSentence {
		return 0
	}
	return f.accLen
}

// Reset drops all buffered and partial data.
func (f *Framer) Reset() {
	f.reset()
}

func (f *Framer) reset() {
	f.head = 0
	f.tail = 0
	f.accLen = 0
	f.inSentence = false
}

func (f *Framer) fault(err error) {
	partial := ""
	if f.inSentence {
		partial = string(f.acc[:f.accLen])
	}
	if f.OnFault != nil {
		f.OnFault(&FaultError{Err: err, Partial: partial})
	}
}

// Feed appends chunk to the working buffer and returns the sentences it
// completes, terminators stripped. A chunk larger than Free resets the
// framer and is dropped.
func (f *Framer) Feed(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}
	if len(chunk) > f.Free() {
		f.fault(ErrBufferOverflow)
		f.reset()
		return nil
	}
	f.tail += copy(f.buf[f.tail:], chunk)

	var out []string
	for f.head < f.tail {
		if !f.inSentence {
			for f.head < f.tail && !IsSentinel(f.buf[f.head]) {
				if f.buf[f.head] == 0 {
					f.fault(ErrNullByte)
					f.reset()
					return out
				}
				f.head++
			}
			if f.head == f.tail {
				break
			}
			f.inSentence = true
			f.accLen = 0
		}

		complete := false
		for f.head < f.tail {
			c := f.buf[f.head]
			if c == 0 {
				f.fault(ErrNullByte)
				f.reset()
				return out
			}
			if c == '\r' {
				f.head++
				complete = true
				break
			}
			if f.accLen == MaxSentenceLen {
				// Resync restarts at c; it may be the next sentinel.
				f.fault(ErrSentenceTooLong)
				f.inSentence = false
				f.accLen = 0
				break
			}
			f.acc[f.accLen] = c
			f.accLen++
			f.head++
		}

		if complete {
			out = append(out, string(f.acc[:f.accLen]))
			f.inSentence = false
			f.accLen = 0
			f.compact()
		}
	}

	// Everything left is either consumed or held in the accumulator.
	f.head = 0
	f.tail = 0
	return out
}

// FeedStream feeds a chunk of any size, splitting it into pieces that fit
// the working buffer.
func (f *Framer) FeedStream(chunk []byte) []string {
	var out []string
	for len(chunk) > 0 {
		n := min(len(chunk), f.Free())
		if n == 0 {
			n = len(chunk)
		}
		out = append(out, f.Feed(chunk[:n])...)
		chunk = chunk[n:]
	}
	return out
}

func (f *Framer) compact() {
	n := copy(f.buf[:], f.buf[f.head:f.tail])
	f.head = 0
	f.tail = n
}
