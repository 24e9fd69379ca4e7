package session

import "sync/atomic"

type counters struct {
	bytesReceived atomic.Uint64
	readErrors    atomic.Uint64
	received      atomic.Uint64
	accepted      atomic.Uint64
	filtered      atomic.Uint64
	dropped       atomic.Uint64
	decoded       atomic.Uint64
	sent          atomic.Uint64
	sendErrors    atomic.Uint64
	faults        atomic.Uint64
	skipped       atomic.Uint64
}

// Stats is a point-in-time copy of the session counters.
type Stats struct {
	BytesReceived uint64 `json:"bytes_received"`
	ReadErrors    uint64 `json:"read_errors"`
	Received      uint64 `json:"received"`
	Accepted      uint64 `json:"accepted"`
	Filtered      uint64 `json:"filtered"`
	Dropped       uint64 `json:"dropped"`
	Decoded       uint64 `json:"decoded"`
	Sent          uint64 `json:"sent"`
	SendErrors    uint64 `json:"send_errors"`
	Faults        uint64 `json:"faults"`
	Skipped       uint64 `json:"skipped"`
}

func (s *Session) Stats() Stats {
	c := &s.stats
	return Stats{
		BytesReceived: c.bytesReceived.Load(),
		ReadErrors:    c.readErrors.Load(),
		Received:      c.received.Load(),
		Accepted:      c.accepted.Load(),
		Filtered:      c.filtered.Load(),
		Dropped:       c.dropped.Load(),
		Decoded:       c.decoded.Load(),
		Sent:          c.sent.Load(),
		SendErrors:    c.sendErrors.Load(),
		Faults:        c.faults.Load(),
		Skipped:       c.skipped.Load(),
	}
}
