package transport

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// DefaultPollTimeout bounds a UDP read attempt so a cycle never stalls.
const DefaultPollTimeout = time.Millisecond

// MaxDatagram is the largest datagram a single Read accepts.
const MaxDatagram = 64 * 1024

type packetConn interface {
	ReadFrom(p []byte) (int, net.Addr, error)
	SetReadDeadline(t time.Time) error
	LocalAddr() net.Addr
	Close() error
}

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type (
	resolveFunc func(network, address string) (*net.UDPAddr, error)
	listenFunc  func(network string, laddr *net.UDPAddr) (packetConn, error)
	dialFunc    func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)
)

// UDP receives datagrams on a bound socket and optionally sends to a fixed
// destination.
type UDP struct {
	listen      string
	dest        string
	pollTimeout time.Duration

	in  packetConn
	out udpConn
	now func() time.Time
}

func OpenUDP(cfg UDPConfig) (*UDP, error) {
	listen := func(network string, laddr *net.UDPAddr) (packetConn, error) {
		return net.ListenUDP(network, laddr)
	}
	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	}
	return newUDP(cfg, net.ResolveUDPAddr, listen, dial)
}

func newUDP(cfg UDPConfig, resolve resolveFunc, listen listenFunc, dial dialFunc) (*UDP, error) {
	laddr, err := resolve("udp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("resolve listen: %w", err)
	}
	in, err := listen("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}

	u := &UDP{
		listen:      cfg.Listen,
		dest:        cfg.Dest,
		pollTimeout: cfg.PollTimeout,
		in:          in,
		now:         time.Now,
	}
	if u.pollTimeout <= 0 {
		u.pollTimeout = DefaultPollTimeout
	}

	if cfg.Dest != "" {
		raddr, err := resolve("udp", cfg.Dest)
		if err != nil {
			_ = in.Close()
			return nil, fmt.Errorf("resolve dest: %w", err)
		}
		// DialUDP selects a suitable local address automatically.
		out, err := dial("udp", nil, raddr)
		if err != nil {
			_ = in.Close()
			return nil, fmt.Errorf("dial udp: %w", err)
		}
		u.out = out
	}
	return u, nil
}

// LocalAddr is the bound receive address.
func (u *UDP) LocalAddr() net.Addr {
	return u.in.LocalAddr()
}

// Read returns one datagram, or 0 when none arrives within the poll timeout.
func (u *UDP) Read(p []byte) (int, error) {
	if err := u.in.SetReadDeadline(u.now().Add(u.pollTimeout)); err != nil {
		return 0, err
	}
	n, _, err := u.in.ReadFrom(p)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// Write sends one datagram to the configured destination.
func (u *UDP) Write(p []byte) (int, error) {
	if u.out == nil {
		return 0, ErrNoDestination
	}
	if len(p) == 0 {
		return 0, nil
	}
	return u.out.Write(p)
}

func (u *UDP) Close() error {
	var errs []error
	if u.in != nil {
		errs = append(errs, u.in.Close())
		u.in = nil
	}
	if u.out != nil {
		errs = append(errs, u.out.Close())
		u.out = nil
	}
	return errors.Join(errs...)
}
