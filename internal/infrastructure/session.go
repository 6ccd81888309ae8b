package infrastructure

import (
	"context"
	"errors"
	"sync"
	"time"

	"dermabot/internal/entities"

	"github.com/rs/zerolog/log"
)

// ErrSenderBusy is returned when a sender's queue of pending turns is full.
var ErrSenderBusy = errors.New("sender has too many pending turns")

// ErrRouterStopped is returned after Stop.
var ErrRouterStopped = errors.New("session router stopped")

// Job processes one turn for a sender. It runs on the sender's lane, never
// concurrently with another job of the same sender.
type Job func(ctx context.Context) entities.AgentReply

type laneItem struct {
	job  Job
	done chan entities.AgentReply
}

// senderLane is the FIFO queue and worker of one sender.
type senderLane struct {
	senderID   string
	queue      chan laneItem
	processing bool
	lastActive time.Time
	mu         sync.Mutex
}

// SessionRouter serializes turns per sender. Turns of one sender run strictly
// in submission order; different senders run in parallel.
type SessionRouter struct {
	lanes       map[string]*senderLane
	mu          sync.Mutex
	queueSize   int
	idleTimeout time.Duration
	stopCh      chan struct{}
	stopped     bool
	wg          sync.WaitGroup
}

// NewSessionRouter creates a router. queueSize bounds the turns waiting behind
// the one in progress for a sender; idle lanes exit after idleTimeout.
func NewSessionRouter(queueSize int, idleTimeout time.Duration) *SessionRouter {
	if queueSize < 1 {
		queueSize = 1
	}
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	return &SessionRouter{
		lanes:       make(map[string]*senderLane),
		queueSize:   queueSize,
		idleTimeout: idleTimeout,
		stopCh:      make(chan struct{}),
	}
}

// Submit enqueues job on the sender's lane and returns a channel that receives
// exactly one reply. Submission order is processing order.
func (r *SessionRouter) Submit(senderID string, job Job) (<-chan entities.AgentReply, error) {
	item := laneItem{job: job, done: make(chan entities.AgentReply, 1)}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil, ErrRouterStopped
	}

	l, ok := r.lanes[senderID]
	if !ok {
		l = &senderLane{
			senderID:   senderID,
			queue:      make(chan laneItem, r.queueSize),
			lastActive: time.Now(),
		}
		r.lanes[senderID] = l
		r.wg.Add(1)
		go r.runWorker(l)
	}

	// The router lock is held, so the worker cannot retire this lane between
	// the lookup and the enqueue.
	select {
	case l.queue <- item:
		return item.done, nil
	default:
		return nil, ErrSenderBusy
	}
}

func (r *SessionRouter) runWorker(l *senderLane) {
	defer r.wg.Done()
	idle := time.NewTimer(r.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case item := <-l.queue:
			l.mu.Lock()
			l.processing = true
			l.lastActive = time.Now()
			l.mu.Unlock()

			item.done <- r.runJob(l.senderID, item.job)

			l.mu.Lock()
			l.processing = false
			l.lastActive = time.Now()
			l.mu.Unlock()

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(r.idleTimeout)

		case <-idle.C:
			r.mu.Lock()
			if len(l.queue) > 0 {
				r.mu.Unlock()
				idle.Reset(r.idleTimeout)
				continue
			}
			delete(r.lanes, l.senderID)
			r.mu.Unlock()
			return

		case <-r.stopCh:
			return
		}
	}
}

func (r *SessionRouter) runJob(senderID string, job Job) (reply entities.AgentReply) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Str("sender", senderID).Msg("Turn processing panicked")
			reply = entities.AgentReply{Status: entities.StatusUnknown, RawError: "panic during turn processing"}
		}
	}()
	return job(context.Background())
}

// Stop shuts down all lane workers. Pending turns are abandoned.
func (r *SessionRouter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	close(r.stopCh)
	r.mu.Unlock()
	r.wg.Wait()
}

// Stats returns router statistics for the admin API.
func (r *SessionRouter) Stats() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	active, queued := 0, 0
	for _, l := range r.lanes {
		l.mu.Lock()
		if l.processing {
			active++
		}
		l.mu.Unlock()
		queued += len(l.queue)
	}
	return map[string]interface{}{
		"lanes":      len(r.lanes),
		"processing": active,
		"queued":     queued,
		"queue_size": r.queueSize,
	}
}
