//go:build linux

package transport

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// DefaultBaud is the NMEA 0183 standard rate.
const DefaultBaud = 4800

// Serial is a raw, non-blocking serial line.
type Serial struct {
	fd   int
	path string
}

// OpenSerial opens path in raw mode. Reads never block: they return 0 when
// the driver has nothing buffered.
func OpenSerial(path string, baud int) (*Serial, error) {
	if baud == 0 {
		baud = DefaultBaud
	}
	spd, err := baudToUnix(baud)
	if err != nil {
		return nil, err
	}

	flag := unix.O_RDWR | unix.O_NOCTTY | unix.O_NONBLOCK
	fd, err := unix.Open(path, flag, 0)
	if err != nil {
		return nil, err
	}

	// Best-effort: if anything below fails, close fd.
	ok := false
	defer func() {
		if !ok {
			_ = unix.Close(fd)
		}
	}()

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, err
	}

	// Raw mode; CR must reach the framer untranslated.
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	// Polling read: return immediately with whatever is buffered.
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0

	t.Cflag &^= unix.CBAUD
	t.Cflag |= spd
	t.Ispeed = spd
	t.Ospeed = spd

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return nil, err
	}

	ok = true
	return &Serial{fd: fd, path: path}, nil
}

func (s *Serial) Read(p []byte) (int, error) {
	if s.fd < 0 {
		return 0, fmt.Errorf("serial %s is closed", s.path)
	}
	n, err := unix.Read(s.fd, p)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, err
	}
	if n < 0 {
		return 0, nil
	}
	return n, nil
}

func (s *Serial) Write(p []byte) (int, error) {
	if s.fd < 0 {
		return 0, fmt.Errorf("serial %s is closed", s.path)
	}
	written := 0
	for written < len(p) {
		n, err := unix.Write(s.fd, p[written:])
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return written, fmt.Errorf("serial write: %w", err)
		}
		written += n
	}
	return written, nil
}

func (s *Serial) Close() error {
	if s.fd < 0 {
		return nil
	}
	fd := s.fd
	s.fd = -1
	return unix.Close(fd)
}

func baudToUnix(baud int) (uint32, error) {
	switch baud {
	case 4800:
		return unix.B4800, nil
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	default:
		return 0, fmt.Errorf("unsupported baud %d", baud)
	}
}
