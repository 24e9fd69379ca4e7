package transport

import (
	"errors"
	"net"
	"os"
	"testing"
	"time"
)

type fakeConn struct {
	writes    [][]byte
	writeErr  error
	closed    bool
	closeErr  error
	writeHits int
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.writeHits++
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	cp := append([]byte(nil), p...)
	c.writes = append(c.writes, cp)
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return c.closeErr
}

type fakePacketConn struct {
	reads    [][]byte
	readErr  error
	deadline time.Time
	closed   bool
}

func (c *fakePacketConn) ReadFrom(p []byte) (int, net.Addr, error) {
	if c.readErr != nil {
		return 0, nil, c.readErr
	}
	if len(c.reads) == 0 {
		return 0, nil, os.ErrDeadlineExceeded
	}
	n := copy(p, c.reads[0])
	c.reads = c.reads[1:]
	return n, &net.UDPAddr{}, nil
}

func (c *fakePacketConn) SetReadDeadline(t time.Time) error {
	c.deadline = t
	return nil
}

func (c *fakePacketConn) LocalAddr() net.Addr { return &net.UDPAddr{Port: 10110} }

func (c *fakePacketConn) Close() error {
	c.closed = true
	return nil
}

func fakeListen(pc *fakePacketConn) listenFunc {
	return func(network string, laddr *net.UDPAddr) (packetConn, error) {
		return pc, nil
	}
}

func TestNewUDP_DialsResolvedDest(t *testing.T) {
	var gotNetwork string
	var gotRaddr *net.UDPAddr
	fc := &fakeConn{}

	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		gotNetwork = network
		gotRaddr = raddr
		return fc, nil
	}

	u, err := newUDP(UDPConfig{Listen: ":10110", Dest: "127.0.0.1:4000"}, net.ResolveUDPAddr, fakeListen(&fakePacketConn{}), dial)
	if err != nil {
		t.Fatalf("newUDP() error: %v", err)
	}
	defer u.Close()

	if gotNetwork != "udp" {
		t.Fatalf("network=%q want %q", gotNetwork, "udp")
	}
	if gotRaddr == nil || gotRaddr.Port != 4000 || !gotRaddr.IP.Equal(net.IPv4(127, 0, 0, 1)) {
		t.Fatalf("raddr=%v want 127.0.0.1:4000", gotRaddr)
	}
}

func TestNewUDP_ResolveFailureClosesListener(t *testing.T) {
	resolveErr := errors.New("nope")
	resolve := func(network, address string) (*net.UDPAddr, error) {
		if address == "bad:addr" {
			return nil, resolveErr
		}
		return net.ResolveUDPAddr(network, address)
	}
	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return &fakeConn{}, nil
	}
	pc := &fakePacketConn{}

	_, err := newUDP(UDPConfig{Listen: ":0", Dest: "bad:addr"}, resolve, fakeListen(pc), dial)
	if !errors.Is(err, resolveErr) {
		t.Fatalf("err=%v want %v", err, resolveErr)
	}
	if !pc.closed {
		t.Fatalf("expected listener closed")
	}
}

func TestUDP_ReadTimeoutIsNoData(t *testing.T) {
	pc := &fakePacketConn{}
	u := &UDP{in: pc, pollTimeout: time.Millisecond, now: func() time.Time { return time.Unix(100, 0) }}

	buf := make([]byte, 32)
	for i := 0; i < 3; i++ {
		n, err := u.Read(buf)
		if err != nil || n != 0 {
			t.Fatalf("Read()=%d,%v want 0,nil", n, err)
		}
	}
	if !pc.deadline.Equal(time.Unix(100, 0).Add(time.Millisecond)) {
		t.Fatalf("deadline=%s", pc.deadline)
	}
}

func TestUDP_ReadReturnsDatagram(t *testing.T) {
	pc := &fakePacketConn{reads: [][]byte{[]byte("$GPGGA,1\r\n")}}
	u := &UDP{in: pc, pollTimeout: time.Millisecond, now: time.Now}

	buf := make([]byte, 32)
	n, err := u.Read(buf)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if string(buf[:n]) != "$GPGGA,1\r\n" {
		t.Fatalf("read=%q", buf[:n])
	}
}

func TestUDP_ReadPropagatesError(t *testing.T) {
	wantErr := errors.New("boom")
	u := &UDP{in: &fakePacketConn{readErr: wantErr}, pollTimeout: time.Millisecond, now: time.Now}
	if _, err := u.Read(make([]byte, 8)); !errors.Is(err, wantErr) {
		t.Fatalf("err=%v want %v", err, wantErr)
	}
}

func TestUDP_Write_NoDestination(t *testing.T) {
	u := &UDP{in: &fakePacketConn{}}
	if _, err := u.Write([]byte("$GPGGA,1\r\n")); !errors.Is(err, ErrNoDestination) {
		t.Fatalf("err=%v want ErrNoDestination", err)
	}
}

func TestUDP_Write_EmptyNoWrite(t *testing.T) {
	fc := &fakeConn{}
	u := &UDP{in: &fakePacketConn{}, out: fc}

	if _, err := u.Write(nil); err != nil {
		t.Fatalf("Write(nil) error: %v", err)
	}
	if fc.writeHits != 0 {
		t.Fatalf("expected no writes, got %d", fc.writeHits)
	}
}

func TestUDP_Write_PropagatesError(t *testing.T) {
	wantErr := errors.New("boom")
	u := &UDP{in: &fakePacketConn{}, out: &fakeConn{writeErr: wantErr}}
	if _, err := u.Write([]byte{0x01}); !errors.Is(err, wantErr) {
		t.Fatalf("err=%v want %v", err, wantErr)
	}
}

func TestUDP_CloseClosesBoth(t *testing.T) {
	pc := &fakePacketConn{}
	fc := &fakeConn{}
	u := &UDP{in: pc, out: fc}
	if err := u.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if !pc.closed || !fc.closed {
		t.Fatalf("expected both sockets closed")
	}
	if err := u.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
}

func TestOpenUDP_Loopback(t *testing.T) {
	rx, err := OpenUDP(UDPConfig{Listen: "127.0.0.1:0", PollTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("OpenUDP() error: %v", err)
	}
	defer rx.Close()

	tx, err := OpenUDP(UDPConfig{Listen: "127.0.0.1:0", Dest: rx.LocalAddr().String()})
	if err != nil {
		t.Fatalf("OpenUDP() error: %v", err)
	}
	defer tx.Close()

	if _, err := tx.Write([]byte("$GPGLL,1\r\n")); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	buf := make([]byte, MaxDatagram)
	var n int
	for i := 0; i < 20 && n == 0; i++ {
		n, err = rx.Read(buf)
		if err != nil {
			t.Fatalf("Read() error: %v", err)
		}
	}
	if string(buf[:n]) != "$GPGLL,1\r\n" {
		t.Fatalf("read=%q", buf[:n])
	}
}
