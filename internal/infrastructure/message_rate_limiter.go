package infrastructure

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SenderLimiter implements token bucket flood control per sender.
type SenderLimiter struct {
	mu          sync.Mutex
	senders     map[string]*senderBucket
	rate        rate.Limit
	burst       int
	idleAfter   time.Duration
	cleanupTick time.Duration
	stopCh      chan struct{}
	stopOnce    sync.Once
}

type senderBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewSenderLimiter creates a limiter allowing perSecond turns per sender with
// the given burst. A non-positive rate disables limiting.
func NewSenderLimiter(perSecond float64, burst int) *SenderLimiter {
	if burst < 1 {
		burst = 1
	}
	sl := &SenderLimiter{
		senders:     make(map[string]*senderBucket),
		rate:        rate.Limit(perSecond),
		burst:       burst,
		idleAfter:   10 * time.Minute,
		cleanupTick: 5 * time.Minute,
		stopCh:      make(chan struct{}),
	}
	go sl.cleanup()
	return sl
}

// Allow reports whether the sender may submit another turn now, consuming a
// token if so.
func (sl *SenderLimiter) Allow(senderID string) bool {
	if sl.rate <= 0 {
		return true
	}
	sl.mu.Lock()
	b, ok := sl.senders[senderID]
	if !ok {
		b = &senderBucket{limiter: rate.NewLimiter(sl.rate, sl.burst)}
		sl.senders[senderID] = b
	}
	b.lastSeen = time.Now()
	sl.mu.Unlock()
	return b.limiter.Allow()
}

// Stop ends the cleanup goroutine.
func (sl *SenderLimiter) Stop() {
	sl.stopOnce.Do(func() { close(sl.stopCh) })
}

func (sl *SenderLimiter) cleanup() {
	ticker := time.NewTicker(sl.cleanupTick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sl.evictIdle(time.Now())
		case <-sl.stopCh:
			return
		}
	}
}

func (sl *SenderLimiter) evictIdle(now time.Time) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	for id, b := range sl.senders {
		if now.Sub(b.lastSeen) > sl.idleAfter {
			delete(sl.senders, id)
		}
	}
}

// Stats returns limiter statistics.
func (sl *SenderLimiter) Stats() map[string]interface{} {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return map[string]interface{}{
		"active_senders": len(sl.senders),
		"rate":           float64(sl.rate),
		"burst":          sl.burst,
	}
}
