package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/leadstream/leadstream/internal/domain"
)

// AdmissionLimits enforces the three admission checks applied before a
// connection is accepted: a global concurrent-connection cap, a per-IP
// concurrent cap, and a per-IP connect-rate token bucket.
type AdmissionLimits struct {
	globalMax     int64
	globalCurrent atomic.Int64

	ipMu    sync.RWMutex
	ipCount map[string]int
	ipMax   int

	rateMu      sync.Mutex
	rateBuckets map[string]*rateBucket
	rateLimit   rate.Limit
	rateBurst   int
	cleanupAt   time.Time
}

type rateBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const rateCleanupInterval = 5 * time.Minute

func NewAdmissionLimits(globalMax int64, perIPMax int, connectRate float64, burst int) *AdmissionLimits {
	return &AdmissionLimits{
		globalMax:   globalMax,
		ipCount:     make(map[string]int),
		ipMax:       perIPMax,
		rateBuckets: make(map[string]*rateBucket),
		rateLimit:   rate.Limit(connectRate),
		rateBurst:   burst,
		cleanupAt:   time.Now().Add(rateCleanupInterval),
	}
}

// Acquire claims one admission slot for the given IP. On refusal no slot
// is held and the returned error names the limit that fired.
func (l *AdmissionLimits) Acquire(ip string) *domain.AdmissionError {
	if !l.allowRate(ip) {
		return &domain.AdmissionError{Reason: domain.AdmissionReasonRate}
	}
	if !l.acquireGlobal() {
		return &domain.AdmissionError{Reason: domain.AdmissionReasonGlobal}
	}
	if !l.acquireIP(ip) {
		l.globalCurrent.Add(-1)
		return &domain.AdmissionError{Reason: domain.AdmissionReasonPerIP}
	}
	return nil
}

// Release returns the slot held by Acquire. Exactly one Release per
// successful Acquire; the gateway guarantees this via the disconnect
// transaction.
func (l *AdmissionLimits) Release(ip string) {
	l.ipMu.Lock()
	n := l.ipCount[ip]
	if n > 1 {
		l.ipCount[ip] = n - 1
	} else if n == 1 {
		delete(l.ipCount, ip)
	}
	l.ipMu.Unlock()

	if n > 0 {
		l.globalCurrent.Add(-1)
	}
}

// Total returns the number of held admission slots.
func (l *AdmissionLimits) Total() int64 {
	return l.globalCurrent.Load()
}

// CountForIP returns the number of slots held by one IP.
func (l *AdmissionLimits) CountForIP(ip string) int {
	l.ipMu.RLock()
	defer l.ipMu.RUnlock()
	return l.ipCount[ip]
}

func (l *AdmissionLimits) acquireGlobal() bool {
	for {
		current := l.globalCurrent.Load()
		if current >= l.globalMax {
			return false
		}
		if l.globalCurrent.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (l *AdmissionLimits) acquireIP(ip string) bool {
	l.ipMu.Lock()
	defer l.ipMu.Unlock()
	if l.ipCount[ip] >= l.ipMax {
		return false
	}
	l.ipCount[ip]++
	return true
}

func (l *AdmissionLimits) allowRate(ip string) bool {
	l.rateMu.Lock()
	defer l.rateMu.Unlock()

	now := time.Now()
	if now.After(l.cleanupAt) {
		cutoff := now.Add(-2 * rateCleanupInterval)
		for addr, b := range l.rateBuckets {
			if b.lastSeen.Before(cutoff) {
				delete(l.rateBuckets, addr)
			}
		}
		l.cleanupAt = now.Add(rateCleanupInterval)
	}

	b, ok := l.rateBuckets[ip]
	if !ok {
		b = &rateBucket{limiter: rate.NewLimiter(l.rateLimit, l.rateBurst)}
		l.rateBuckets[ip] = b
	}
	b.lastSeen = now
	return b.limiter.Allow()
}
