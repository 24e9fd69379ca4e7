// Package forward moves what a session produces off the process: accepted
// sentences and decoded records are drained from their queues and handed to
// a Publisher each cycle.
package forward

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Publisher delivers one payload to a topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
	Close() error
}

type SentenceSource interface {
	Pop() (string, bool)
}

type DataSource interface {
	Pop() ([]byte, bool)
}

type Config struct {
	SentenceTopic string
	DataTopic     string
}

// Forwarder drains the downstream and data queues into a Publisher.
type Forwarder struct {
	pub       Publisher
	cfg       Config
	sentences SentenceSource
	data      DataSource
	log       zerolog.Logger

	published atomic.Uint64
	failed    atomic.Uint64
}

// New returns a forwarder. Either source may be nil; a source whose topic is
// empty is still drained so the session never sees a full queue.
func New(pub Publisher, cfg Config, sentences SentenceSource, data DataSource, log zerolog.Logger) *Forwarder {
	return &Forwarder{
		pub:       pub,
		cfg:       cfg,
		sentences: sentences,
		data:      data,
		log:       log.With().Str("component", "forward").Logger(),
	}
}

// Drain publishes everything currently queued. It returns the number of
// payloads published and the first publish error; later payloads are still
// attempted.
func (f *Forwarder) Drain() (int, error) {
	var (
		n        int
		firstErr error
	)
	publish := func(topic string, payload []byte) {
		if topic == "" {
			return
		}
		if err := f.pub.Publish(topic, payload); err != nil {
			f.failed.Add(1)
			if firstErr == nil {
				firstErr = fmt.Errorf("publish %s: %w", topic, err)
				f.log.Warn().Err(err).Str("topic", topic).Msg("publish failed")
			}
			return
		}
		f.published.Add(1)
		n++
	}

	if f.sentences != nil {
		for {
			s, ok := f.sentences.Pop()
			if !ok {
				break
			}
			publish(f.cfg.SentenceTopic, []byte(s))
		}
	}
	if f.data != nil {
		for {
			rec, ok := f.data.Pop()
			if !ok {
				break
			}
			publish(f.cfg.DataTopic, rec)
		}
	}
	return n, firstErr
}

// Counts reports published and failed payloads since New.
func (f *Forwarder) Counts() (published, failed uint64) {
	return f.published.Load(), f.failed.Load()
}

// WriterPublisher writes each payload as one line. The topic is ignored.
type WriterPublisher struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterPublisher(w io.Writer) *WriterPublisher {
	return &WriterPublisher{w: w}
}

func (p *WriterPublisher) Publish(_ string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.w == nil {
		return errors.New("writer publisher closed")
	}
	line := make([]byte, 0, len(payload)+1)
	line = append(line, payload...)
	line = append(line, '\n')
	_, err := p.w.Write(line)
	return err
}

func (p *WriterPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.w = nil
	return nil
}
