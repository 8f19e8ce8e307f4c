package crawl

import (
	"sync"
	"time"
)

// Throttle adapts the inter-request delay to observed error rate and
// response latency, the same way a retry policy adapts backoff to
// repeated failure, but continuously rather than per-attempt: a sliding
// window of recent outcomes feeds a delay multiplier instead of a single
// exponential curve.
type Throttle struct {
	mu sync.Mutex

	initialDelay time.Duration
	minDelay     time.Duration
	maxDelay     time.Duration

	errorThreshold        float64 // percent, e.g. 10.0
	fastResponseThreshold time.Duration
	slowdownFactor        float64
	speedupFactor         float64

	windowSize         int
	adjustmentInterval int

	currentDelay time.Duration

	recentLatencies []time.Duration
	recentErrors    []bool
	windowPos       int

	sinceAdjustment int

	totalRequests      int
	successfulRequests int
	failedRequests     int
	adjustmentsCount   int
}

type ThrottleOption func(*Throttle)

func WithThrottleDelays(initial, min, max time.Duration) ThrottleOption {
	return func(t *Throttle) {
		t.initialDelay, t.minDelay, t.maxDelay = initial, min, max
		t.currentDelay = initial
	}
}

func WithThrottleThresholds(errorPercent float64, fastResponse time.Duration) ThrottleOption {
	return func(t *Throttle) {
		t.errorThreshold = errorPercent
		t.fastResponseThreshold = fastResponse
	}
}

func WithThrottleFactors(slowdown, speedup float64) ThrottleOption {
	return func(t *Throttle) { t.slowdownFactor, t.speedupFactor = slowdown, speedup }
}

func WithThrottleWindow(windowSize, adjustmentInterval int) ThrottleOption {
	return func(t *Throttle) { t.windowSize, t.adjustmentInterval = windowSize, adjustmentInterval }
}

// NewThrottle builds a Throttle with the stock coefficients: 500ms
// initial delay, 100ms floor, 5s ceiling, 10% error threshold, 500ms
// fast-response threshold, slowdown ×1.5, speedup ×0.8, 100-request
// sliding window, adjusting every 10 requests.
func NewThrottle(opts ...ThrottleOption) *Throttle {
	t := &Throttle{
		initialDelay:          500 * time.Millisecond,
		minDelay:              100 * time.Millisecond,
		maxDelay:              5 * time.Second,
		errorThreshold:        10.0,
		fastResponseThreshold: 500 * time.Millisecond,
		slowdownFactor:        1.5,
		speedupFactor:         0.8,
		windowSize:            100,
		adjustmentInterval:    10,
	}
	t.currentDelay = t.initialDelay
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Delay returns the current inter-request delay.
func (t *Throttle) Delay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentDelay
}

// RecordSuccess logs a successful fetch's response time and adjusts the
// delay once per adjustment_interval requests.
func (t *Throttle) RecordSuccess(responseTime time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalRequests++
	t.successfulRequests++
	t.pushWindow(responseTime, false)
	t.maybeAdjust()
}

// RecordFailure logs a failed fetch; responseTime may be zero if the
// request never got a response (e.g. connection refused).
func (t *Throttle) RecordFailure(responseTime time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalRequests++
	t.failedRequests++
	if responseTime > 0 {
		t.pushWindow(responseTime, true)
	} else {
		t.pushErrorOnly()
	}
	t.maybeAdjust()
}

func (t *Throttle) pushWindow(latency time.Duration, isErr bool) {
	t.recentLatencies = appendBounded(t.recentLatencies, latency, t.windowSize)
	t.recentErrors = appendBoundedBool(t.recentErrors, isErr, t.windowSize)
}

func (t *Throttle) pushErrorOnly() {
	t.recentErrors = appendBoundedBool(t.recentErrors, true, t.windowSize)
}

func appendBounded(s []time.Duration, v time.Duration, max int) []time.Duration {
	s = append(s, v)
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}

func appendBoundedBool(s []bool, v bool, max int) []bool {
	s = append(s, v)
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}

func (t *Throttle) maybeAdjust() {
	t.sinceAdjustment++
	if t.sinceAdjustment < t.adjustmentInterval {
		return
	}
	t.sinceAdjustment = 0
	t.adjust()
}

// adjust applies the two-rule policy: high error rate wins over fast
// response time when both conditions hold in the same window.
func (t *Throttle) adjust() {
	if len(t.recentErrors) == 0 {
		return
	}
	errCount := 0
	for _, e := range t.recentErrors {
		if e {
			errCount++
		}
	}
	errorRate := float64(errCount) / float64(len(t.recentErrors)) * 100

	old := t.currentDelay
	adjusted := false

	if errorRate > t.errorThreshold {
		t.currentDelay = time.Duration(float64(t.currentDelay) * t.slowdownFactor)
		adjusted = true
	} else if avg := t.avgLatency(); avg > 0 && avg < t.fastResponseThreshold {
		t.currentDelay = time.Duration(float64(t.currentDelay) * t.speedupFactor)
		adjusted = true
	}

	if t.currentDelay < t.minDelay {
		t.currentDelay = t.minDelay
	}
	if t.currentDelay > t.maxDelay {
		t.currentDelay = t.maxDelay
	}
	if adjusted && t.currentDelay != old {
		t.adjustmentsCount++
	}
}

func (t *Throttle) avgLatency() time.Duration {
	if len(t.recentLatencies) == 0 {
		return 0
	}
	var sum time.Duration
	for _, l := range t.recentLatencies {
		sum += l
	}
	return sum / time.Duration(len(t.recentLatencies))
}

// ThrottleStatistics is a point-in-time summary of the controller's
// state, for observability/export.
type ThrottleStatistics struct {
	CurrentDelay       time.Duration
	MinDelay           time.Duration
	MaxDelay           time.Duration
	TotalRequests      int
	SuccessfulRequests int
	FailedRequests     int
	ErrorRatePercent   float64
	AvgResponseTime    time.Duration
	AdjustmentsCount   int
}

func (t *Throttle) Statistics() ThrottleStatistics {
	t.mu.Lock()
	defer t.mu.Unlock()

	errorRate := 0.0
	if t.totalRequests > 0 {
		errorRate = float64(t.failedRequests) / float64(t.totalRequests) * 100
	}
	return ThrottleStatistics{
		CurrentDelay:       t.currentDelay,
		MinDelay:           t.minDelay,
		MaxDelay:           t.maxDelay,
		TotalRequests:      t.totalRequests,
		SuccessfulRequests: t.successfulRequests,
		FailedRequests:     t.failedRequests,
		ErrorRatePercent:   errorRate,
		AvgResponseTime:    t.avgLatency(),
		AdjustmentsCount:   t.adjustmentsCount,
	}
}

// Reset returns the throttle to its initial delay and clears all
// recorded history.
func (t *Throttle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currentDelay = t.initialDelay
	t.recentLatencies = nil
	t.recentErrors = nil
	t.sinceAdjustment = 0
	t.totalRequests, t.successfulRequests, t.failedRequests, t.adjustmentsCount = 0, 0, 0, 0
}
