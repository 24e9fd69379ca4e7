package gps

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	gonmea "github.com/adrianmo/go-nmea"

	"nmea-relay/internal/nmea"
)

const feetPerMeter = 3.280839895013123

// parseSentence verifies the checksum of line and decodes RMC and GGA
// sentences. Other sentence types yield a nil Sentence and no error.
// A sentence without a checksum is accepted; the decoder sees it with one.
func parseSentence(line string) (gonmea.Sentence, error) {
	line = strings.TrimSpace(line)
	payload, _, err := nmea.SplitChecksum(line)
	if err != nil {
		return nil, err
	}
	fields := strings.Split(payload, ",")
	addr := fields[0]
	if len(addr) < 3 {
		return nil, fmt.Errorf("%w: short address %q", nmea.ErrInvalidSentence, addr)
	}
	// GNRMC, GPRMC, ... all share the RMC layout. Receivers without a fix
	// leave the position fields empty, so those are skipped here.
	switch addr[len(addr)-3:] {
	case gonmea.TypeRMC:
		if field(fields, 2) != gonmea.ValidRMC {
			return nil, nil
		}
	case gonmea.TypeGGA:
		if q := field(fields, 6); q == "" || q == gonmea.Invalid {
			return nil, nil
		}
	default:
		return nil, nil
	}
	return gonmea.Parse(fmt.Sprintf("%c%s*%02X", line[0], payload, nmea.Checksum(payload)))
}

type fixState struct {
	talker string

	latDeg float64
	lonDeg float64
	latOK  bool
	lonOK  bool

	groundKt float64
	gsOK     bool

	trackDeg float64
	trkOK    bool

	altFeet int
	altOK   bool

	fixQuality   int
	fixQualityOK bool
	satellites   int
	satsOK       bool
	hdop         float64
	hdopOK       bool

	// utc is the time of fix carried by the sentence itself.
	utc     time.Time
	lastFix time.Time
	valid   bool

	lastErr string
}

func (s *fixState) apply(at time.Time, sent gonmea.Sentence) bool {
	var updated bool
	switch v := sent.(type) {
	case gonmea.RMC:
		updated = s.applyRMC(at, v)
	case gonmea.GGA:
		updated = s.applyGGA(at, v)
	default:
		return false
	}
	if updated {
		s.talker = sent.TalkerID()
	}
	return updated
}

func (s *fixState) fix(code string, at time.Time) Fix {
	out := Fix{
		Code:   code,
		Talker: s.talker,
		At:     at.UTC().Format(time.RFC3339Nano),
		Valid:  s.valid,
		LatDeg: s.latDeg,
		LonDeg: s.lonDeg,
	}
	if s.altOK {
		v := s.altFeet
		out.AltFeet = &v
	}
	if s.gsOK {
		v := int(math.Round(s.groundKt))
		out.GroundKt = &v
	}
	if s.trkOK {
		v := s.trackDeg
		out.TrackDeg = &v
	}
	if s.fixQualityOK {
		v := s.fixQuality
		out.FixQuality = &v
	}
	if s.satsOK {
		v := s.satellites
		out.Satellites = &v
	}
	if s.hdopOK {
		v := s.hdop
		out.HDOP = &v
	}
	if !s.utc.IsZero() {
		out.FixUTC = s.utc.Format(time.RFC3339Nano)
	}
	if !s.lastFix.IsZero() {
		out.LastFixUTC = s.lastFix.UTC().Format(time.RFC3339Nano)
	}
	out.LastError = s.lastErr
	return out
}

// Field indexes after the address field. go-nmea reports an empty numeric
// field as zero, so presence is checked on the raw fields.
const (
	rmcLat    = 2
	rmcLon    = 4
	rmcSpeed  = 6
	rmcCourse = 7

	ggaLat  = 1
	ggaLon  = 3
	ggaSats = 6
	ggaHDOP = 7
	ggaAlt  = 8
)

func field(fields []string, i int) string {
	if i >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[i])
}

func present(fields []string, i int) bool {
	return field(fields, i) != ""
}

func (s *fixState) applyRMC(at time.Time, r gonmea.RMC) bool {
	if r.Validity != gonmea.ValidRMC {
		// Void fixes leave the state alone.
		return false
	}

	if present(r.Fields, rmcLat) {
		s.latDeg = r.Latitude
		s.latOK = true
	}
	if present(r.Fields, rmcLon) {
		s.lonDeg = r.Longitude
		s.lonOK = true
	}
	if present(r.Fields, rmcSpeed) {
		s.groundKt = r.Speed
		s.gsOK = true
	}
	if present(r.Fields, rmcCourse) {
		s.trackDeg = math.Mod(r.Course+360.0, 360.0)
		s.trkOK = true
	}
	if t, ok := fixTime(r.Date, r.Time); ok {
		s.utc = t
	}

	if s.latOK && s.lonOK {
		s.lastFix = at
		s.valid = true
		return true
	}
	return false
}

func (s *fixState) applyGGA(at time.Time, g gonmea.GGA) bool {
	if g.FixQuality == "" || g.FixQuality == gonmea.Invalid {
		return false
	}
	if q, err := strconv.Atoi(g.FixQuality); err == nil {
		s.fixQuality = q
		s.fixQualityOK = true
	}
	if present(g.Fields, ggaSats) {
		s.satellites = int(g.NumSatellites)
		s.satsOK = true
	}
	if present(g.Fields, ggaHDOP) {
		s.hdop = g.HDOP
		s.hdopOK = true
	}

	updated := false
	if present(g.Fields, ggaLat) {
		s.latDeg = g.Latitude
		s.latOK = true
		updated = true
	}
	if present(g.Fields, ggaLon) {
		s.lonDeg = g.Longitude
		s.lonOK = true
		updated = true
	}
	if present(g.Fields, ggaAlt) {
		s.altFeet = int(math.Round(g.Altitude * feetPerMeter))
		s.altOK = true
		updated = true
	}

	if s.latOK && s.lonOK {
		s.lastFix = at
		s.valid = true
		return updated
	}
	return false
}

// fixTime combines an RMC date and time. Two digit years from 69 on are in
// the 1900s.
func fixTime(d gonmea.Date, t gonmea.Time) (time.Time, bool) {
	if !d.Valid || !t.Valid {
		return time.Time{}, false
	}
	year := 2000 + d.YY
	if d.YY >= 69 {
		year = 1900 + d.YY
	}
	return time.Date(year, time.Month(d.MM), d.DD,
		t.Hour, t.Minute, t.Second, t.Millisecond*int(time.Millisecond), time.UTC), true
}
