package present

import (
	"fmt"
	"math"
	"time"

	"proxy-dashboard/internal/model"
	"proxy-dashboard/internal/reconcile"
)

// RateTracker estimates how many proxies per second the job tests from the
// change in Current between snapshots.
type RateTracker struct {
	lastCurrent uint
	lastAt      time.Time
	rate        float64
	seen        bool
}

// rateSmoothing weights the newest sample in the moving average.
const rateSmoothing = 0.3

func (r *RateTracker) Observe(p model.Progress, at time.Time) {
	p = reconcile.Clamp(p)
	if !r.seen || p.Current < r.lastCurrent {
		// First sample, or a new job restarted the counter.
		r.lastCurrent = p.Current
		r.lastAt = at
		r.rate = 0
		r.seen = true
		return
	}
	elapsed := at.Sub(r.lastAt).Seconds()
	if elapsed <= 0 {
		return
	}
	sample := float64(p.Current-r.lastCurrent) / elapsed
	if r.rate == 0 {
		r.rate = sample
	} else {
		r.rate = rateSmoothing*sample + (1-rateSmoothing)*r.rate
	}
	r.lastCurrent = p.Current
	r.lastAt = at
}

func (r *RateTracker) Reset() {
	*r = RateTracker{}
}

// Rate is proxies tested per second; 0 until two samples were seen.
func (r *RateTracker) Rate() float64 {
	return r.rate
}

func (r *RateTracker) ETA(p model.Progress) string {
	p = reconcile.Clamp(p)
	return EstimateETA(p.Total, p.Current, r.rate)
}

// EstimateETA returns "" when the rate or total is unknown.
func EstimateETA(total, done uint, perSecond float64) string {
	if total == 0 || perSecond <= 0 {
		return ""
	}
	if done >= total {
		return "0m"
	}
	return FormatETA(float64(total-done) / perSecond)
}

func FormatETA(seconds float64) string {
	if seconds <= 0 {
		return ""
	}
	secs := int64(math.Round(seconds))
	if secs < 60 {
		return "<1m"
	}
	minutes := secs / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	hours := minutes / 60
	remMinutes := minutes % 60
	if hours < 24 {
		if remMinutes == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		return fmt.Sprintf("%dh %dm", hours, remMinutes)
	}
	days := hours / 24
	remHours := hours % 24
	if remHours == 0 {
		return fmt.Sprintf("%dd", days)
	}
	return fmt.Sprintf("%dd %dh", days, remHours)
}
