package transport

import (
	"golang.org/x/time/rate"
)

// Limits bounds one connection's resource use.
type Limits struct {
	MaxFrameSize    int64   // inbound frames above this are rejected by the transport
	WriteQueue      int     // pending outbound frames before Send fails with ErrBackpressure
	FramesPerSecond float64 // inbound frame rate; 0 disables limiting
	Burst           int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxFrameSize: 16 * 1024 * 1024,
		WriteQueue:   256,
		Burst:        64,
	}
}

// FrameLimiter drops inbound frames over the configured rate. A nil
// *FrameLimiter allows everything.
type FrameLimiter struct {
	limiter *rate.Limiter
	dropped int64
}

// NewFrameLimiter returns nil when rate limiting is disabled.
func (l Limits) NewFrameLimiter() *FrameLimiter {
	if l.FramesPerSecond <= 0 {
		return nil
	}
	burst := l.Burst
	if burst < 1 {
		burst = 1
	}
	return &FrameLimiter{limiter: rate.NewLimiter(rate.Limit(l.FramesPerSecond), burst)}
}

// Allow reports whether the next frame may be delivered. Only the
// connection's read goroutine calls it.
func (f *FrameLimiter) Allow() bool {
	if f == nil {
		return true
	}
	if f.limiter.Allow() {
		return true
	}
	f.dropped++
	return false
}

// Dropped returns how many frames Allow has refused.
func (f *FrameLimiter) Dropped() int64 {
	if f == nil {
		return 0
	}
	return f.dropped
}
