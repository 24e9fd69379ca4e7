// Package transport opens the byte-oriented sources a device session polls:
// serial lines and UDP sockets. Replay files and in-process channels are
// selected here too but are served by other packages.
package transport

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Kind string

const (
	KindSerial  Kind = "serial"
	KindUDP     Kind = "udp"
	KindFile    Kind = "file"
	KindChannel Kind = "channel"
)

var (
	ErrUnknownKind   = errors.New("unknown source kind")
	ErrNotStream     = errors.New("source kind is not a byte stream")
	ErrNoDestination = errors.New("udp destination not configured")
	ErrUnsupported   = errors.New("serial ports are not supported on this platform")
)

// ParseKind normalizes a configured kind. Empty or unrecognized values are
// an error.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindSerial, KindUDP, KindFile, KindChannel:
		return k, nil
	case "":
		return "", fmt.Errorf("%w: empty", ErrUnknownKind)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

type SerialConfig struct {
	Device string
	Baud   int
}

type UDPConfig struct {
	// Listen is the local bind address ("host:port"; empty host binds all).
	Listen string
	// Dest enables outbound sends when set.
	Dest string
	// PollTimeout bounds each read attempt.
	PollTimeout time.Duration
}

type FileConfig struct {
	Path string
}

// Config selects exactly one source. Only the section named by Kind is set.
type Config struct {
	Kind   Kind
	Serial *SerialConfig
	UDP    *UDPConfig
	File   *FileConfig
}

func (c Config) Validate() error {
	if _, err := ParseKind(string(c.Kind)); err != nil {
		return err
	}
	set := map[Kind]bool{
		KindSerial: c.Serial != nil,
		KindUDP:    c.UDP != nil,
		KindFile:   c.File != nil,
	}
	for k, ok := range set {
		if ok && k != c.Kind {
			return fmt.Errorf("source.%s is set but source.kind is %q", k, c.Kind)
		}
	}
	switch c.Kind {
	case KindSerial:
		if c.Serial == nil || strings.TrimSpace(c.Serial.Device) == "" {
			return fmt.Errorf("source.serial.device is required")
		}
	case KindUDP:
		if c.UDP == nil || strings.TrimSpace(c.UDP.Listen) == "" {
			return fmt.Errorf("source.udp.listen is required")
		}
	case KindFile:
		if c.File == nil || strings.TrimSpace(c.File.Path) == "" {
			return fmt.Errorf("source.file.path is required")
		}
	}
	return nil
}

// Stream is a raw byte transport polled once per cycle.
type Stream interface {
	// Read returns 0 and a nil error when no data is ready.
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// OpenStream opens the serial port or UDP socket described by cfg.
func OpenStream(cfg Config) (Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case KindSerial:
		s, err := OpenSerial(cfg.Serial.Device, cfg.Serial.Baud)
		if err != nil {
			return nil, fmt.Errorf("open serial %s baud=%d: %w", cfg.Serial.Device, cfg.Serial.Baud, err)
		}
		return s, nil
	case KindUDP:
		u, err := OpenUDP(*cfg.UDP)
		if err != nil {
			return nil, fmt.Errorf("open udp %s: %w", cfg.UDP.Listen, err)
		}
		return u, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotStream, cfg.Kind)
	}
}
