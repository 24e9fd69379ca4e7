package gps

import (
	"encoding/json"
	"sync"
	"time"

	"nmea-relay/internal/nmea"
)

// Fix is the structured record emitted for every sentence that updates the
// position state.
type Fix struct {
	Code   string `json:"code"`
	Talker string `json:"talker,omitempty"`
	At     string `json:"at"`
	Valid  bool   `json:"valid"`

	LatDeg     float64  `json:"lat_deg,omitempty"`
	LonDeg     float64  `json:"lon_deg,omitempty"`
	AltFeet    *int     `json:"alt_feet,omitempty"`
	GroundKt   *int     `json:"ground_kt,omitempty"`
	TrackDeg   *float64 `json:"track_deg,omitempty"`
	FixQuality *int     `json:"fix_quality,omitempty"`
	Satellites *int     `json:"satellites,omitempty"`
	HDOP       *float64 `json:"hdop,omitempty"`

	FixUTC     string `json:"fix_utc,omitempty"`
	LastFixUTC string `json:"last_fix_utc,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

// Decoder folds RMC and GGA sentences into a running fix.
type Decoder struct {
	mu    sync.Mutex
	state fixState
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode offers one sentence observed at at. It returns the JSON encoded Fix
// and true when the sentence updated the position; otherwise nil and false.
// Sentences with a bad checksum are rejected and remembered as LastError.
func (d *Decoder) Decode(sentence string, at time.Time) ([]byte, bool) {
	sent, err := parseSentence(sentence)

	d.mu.Lock()
	defer d.mu.Unlock()

	if err != nil {
		d.state.lastErr = err.Error()
		return nil, false
	}
	if !d.state.apply(at, sent) {
		return nil, false
	}
	d.state.lastErr = ""

	b, err := json.Marshal(d.state.fix(nmea.Code(sentence), at))
	if err != nil {
		return nil, false
	}
	return b, true
}

// Snapshot returns the current fix without consuming a sentence.
func (d *Decoder) Snapshot(at time.Time) Fix {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.fix("", at)
}
