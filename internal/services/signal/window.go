package signal

import (
	"math"
	"time"
)

// midRing keeps the last n mids in arrival order.
type midRing struct {
	buf  []float64
	head int
	size int
}

func newMidRing(n int) *midRing { return &midRing{buf: make([]float64, n)} }

func (r *midRing) push(v float64) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

func (r *midRing) oldest() float64 {
	if r.size < len(r.buf) {
		return r.buf[0]
	}
	return r.buf[r.head]
}

func (r *midRing) newest() float64 {
	return r.buf[(r.head-1+len(r.buf))%len(r.buf)]
}

// trend is the relative move from the oldest to the newest mid.
func (r *midRing) trend() float64 {
	if r.size < 2 {
		return 0
	}
	first := r.oldest()
	if first <= 0 {
		return 0
	}
	t := (r.newest() - first) / first
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return 0
	}
	return t
}

type twapSample struct {
	price float64
	at    time.Time
}

// twapWindow holds trade prices for the time-weighted average. Each price is
// weighted by how long it stayed the latest print.
type twapWindow struct {
	window  time.Duration
	max     int
	samples []twapSample
}

func newTWAPWindow(window time.Duration, max int) *twapWindow {
	return &twapWindow{window: window, max: max, samples: make([]twapSample, 0, max)}
}

func (w *twapWindow) add(price float64, at time.Time) {
	w.samples = append(w.samples, twapSample{price: price, at: at})
	if over := len(w.samples) - w.max; over > 0 {
		w.samples = append(w.samples[:0], w.samples[over:]...)
	}
	w.evict(at)
}

// evict drops samples that stopped being the latest before the window start.
func (w *twapWindow) evict(now time.Time) {
	start := now.Add(-w.window)
	drop := 0
	for drop+1 < len(w.samples) && !w.samples[drop+1].at.After(start) {
		drop++
	}
	if drop > 0 {
		w.samples = append(w.samples[:0], w.samples[drop:]...)
	}
}

// inWindow counts prints that happened inside (now-window, now].
func (w *twapWindow) inWindow(now time.Time) int {
	start := now.Add(-w.window)
	n := 0
	for _, s := range w.samples {
		if s.at.After(start) {
			n++
		}
	}
	return n
}

// value returns the TWAP over (now-window, now]. ok is false when no print
// falls inside the window.
func (w *twapWindow) value(now time.Time) (float64, bool) {
	if w.inWindow(now) == 0 {
		return 0, false
	}
	start := now.Add(-w.window)
	var num, den float64
	for i, s := range w.samples {
		from := s.at
		if from.Before(start) {
			from = start
		}
		to := now
		if i+1 < len(w.samples) {
			to = w.samples[i+1].at
		}
		if d := to.Sub(from).Seconds(); d > 0 {
			num += s.price * d
			den += d
		}
	}
	if den == 0 {
		return w.samples[len(w.samples)-1].price, true
	}
	v := num / den
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return w.samples[len(w.samples)-1].price, true
	}
	return v, true
}

// decay returns exp(-dt/tau); non-positive gaps do not decay.
func decay(dt, tau time.Duration) float64 {
	if dt <= 0 {
		return 1
	}
	return math.Exp(-dt.Seconds() / tau.Seconds())
}
