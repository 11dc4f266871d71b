package probe

import (
	"math"
	"time"
)

// rateWindow is the number of frame arrival times kept for rate statistics.
const rateWindow = 300

// RateStats describes how regularly frames reached the probe.
type RateStats struct {
	Frames     int
	Duration   time.Duration
	FPSMean    float64
	FPSMin     float64
	FPSMax     float64
	FPSStdDev  float64
	JitterMean time.Duration
	JitterMax  time.Duration
}

// arrivals is a ring of the most recent frame arrival times.
type arrivals struct {
	times [rateWindow]time.Time
	next  int
	count int
}

func (a *arrivals) add(t time.Time) {
	a.times[a.next] = t
	a.next = (a.next + 1) % rateWindow
	if a.count < rateWindow {
		a.count++
	}
}

// ordered returns the stored times oldest first.
func (a *arrivals) ordered() []time.Time {
	out := make([]time.Time, 0, a.count)
	start := (a.next - a.count + rateWindow) % rateWindow
	for i := 0; i < a.count; i++ {
		out = append(out, a.times[(start+i)%rateWindow])
	}
	return out
}

// computeRate derives FPS and jitter from arrival times.
//
// Fewer than two arrivals, or a zero span, yields zero rates.
func computeRate(times []time.Time) RateStats {
	n := len(times)
	stats := RateStats{Frames: n}
	if n < 2 {
		return stats
	}

	span := times[n-1].Sub(times[0])
	stats.Duration = span
	if span <= 0 {
		return stats
	}
	stats.FPSMean = float64(n-1) / span.Seconds()

	instant := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		if iv := times[i].Sub(times[i-1]).Seconds(); iv > 0 {
			instant = append(instant, 1.0/iv)
		}
	}
	if len(instant) == 0 {
		return stats
	}

	stats.FPSMin, stats.FPSMax = instant[0], instant[0]
	var sumSquares float64
	for _, fps := range instant {
		stats.FPSMin = math.Min(stats.FPSMin, fps)
		stats.FPSMax = math.Max(stats.FPSMax, fps)
		d := fps - stats.FPSMean
		sumSquares += d * d
	}
	stats.FPSStdDev = math.Sqrt(sumSquares / float64(len(instant)))

	expected := time.Duration(float64(time.Second) / stats.FPSMean)
	var jitterSum time.Duration
	for i := 1; i < n; i++ {
		j := times[i].Sub(times[i-1]) - expected
		if j < 0 {
			j = -j
		}
		jitterSum += j
		if j > stats.JitterMax {
			stats.JitterMax = j
		}
	}
	stats.JitterMean = jitterSum / time.Duration(n-1)
	return stats
}
