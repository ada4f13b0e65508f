package logx

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Throttle gates a repeating log line (e.g. "backend unavailable" on every poll)
// so it is emitted at most once per interval. Suppressed occurrences are
// counted and reported on the next emitted line.
type Throttle struct {
	every      time.Duration
	lim        atomic.Pointer[rate.Limiter]
	suppressed atomic.Int64
}

func NewThrottle(every time.Duration) *Throttle {
	if every <= 0 {
		every = 30 * time.Second
	}
	t := &Throttle{every: every}
	t.lim.Store(rate.NewLimiter(rate.Every(every), 1))
	return t
}

// Warn logs msg at warn level if the throttle allows it.
// A nil Throttle never suppresses.
func (t *Throttle) Warn(l Logger, msg string, fields ...Field) bool {
	if t == nil {
		l.Warn(msg, fields...)
		return true
	}
	if !t.lim.Load().Allow() {
		t.suppressed.Add(1)
		return false
	}
	if n := t.suppressed.Swap(0); n > 0 {
		fields = append(fields, Int64("suppressed", n))
	}
	l.Warn(msg, fields...)
	return true
}

// Reset lets the next Warn through immediately. Call it once the reported
// condition has recovered.
func (t *Throttle) Reset() {
	if t == nil {
		return
	}
	t.suppressed.Store(0)
	t.lim.Store(rate.NewLimiter(rate.Every(t.every), 1))
}
