// Package clock provides the time sources a session reads each cycle.
package clock

import (
	"sync"
	"time"
)

// Wall is the real-time clock.
type Wall struct{}

func (Wall) Now() time.Time { return time.Now().UTC() }

// Virtual is a replay clock. It starts at an origin and advances at speed
// times the rate of the wall clock.
type Virtual struct {
	mu     sync.Mutex
	wall   func() time.Time
	origin time.Time
	anchor time.Time
	speed  float64
}

// NewVirtual starts a clock at origin. Speeds <= 0 are treated as 1.
func NewVirtual(origin time.Time, speed float64) *Virtual {
	return newVirtual(origin, speed, time.Now)
}

func newVirtual(origin time.Time, speed float64, wall func() time.Time) *Virtual {
	if speed <= 0 {
		speed = 1
	}
	return &Virtual{
		wall:   wall,
		origin: origin.UTC(),
		anchor: wall(),
		speed:  speed,
	}
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.nowLocked()
}

func (v *Virtual) nowLocked() time.Time {
	elapsed := v.wall().Sub(v.anchor)
	return v.origin.Add(time.Duration(float64(elapsed) * v.speed))
}

// Set jumps the clock to t and keeps advancing from there.
func (v *Virtual) Set(t time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.origin = t.UTC()
	v.anchor = v.wall()
}

// SetSpeed changes the rate without moving the current time.
func (v *Virtual) SetSpeed(speed float64) {
	if speed <= 0 {
		speed = 1
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.origin = v.nowLocked()
	v.anchor = v.wall()
	v.speed = speed
}

func (v *Virtual) Speed() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.speed
}
