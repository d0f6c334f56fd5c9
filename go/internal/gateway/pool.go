package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// broadcastTask is one queued event emission
type broadcastTask struct {
	eventType string
	data      map[string]any
}

// Pool hands broadcast work to a bounded set of workers. Producers that must
// not block on fan-out (the collector, the trigger endpoint) enqueue here
// instead of spawning detached goroutines; Stop drains nothing — tasks still
// queued when the workers exit are silently dropped.
type Pool struct {
	broadcaster *Broadcaster
	workers     int
	taskCh      chan broadcastTask

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool creates a broadcast pool with the given worker count and queue depth
func NewPool(broadcaster *Broadcaster, workers, queueSize int) *Pool {
	return &Pool{
		broadcaster: broadcaster,
		workers:     workers,
		taskCh:      make(chan broadcastTask, queueSize),
	}
}

// Start launches the workers
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("broadcast pool already started")
	}
	p.started = true

	workerCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(workerCtx, i)
	}

	log.Info().Int("workers", p.workers).Msg("broadcast pool started")
	return nil
}

// Stop cancels the workers and waits for in-flight broadcasts to finish
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.started = false
	p.cancel()
	p.wg.Wait()
	log.Info().Msg("broadcast pool stopped")
}

// Enqueue queues one broadcast. Returns an error when the queue is full so
// callers see backpressure instead of silent drops.
func (p *Pool) Enqueue(eventType string, data map[string]any) error {
	select {
	case p.taskCh <- broadcastTask{eventType: eventType, data: data}:
		return nil
	default:
		return fmt.Errorf("broadcast queue full, dropping %s event", eventType)
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-p.taskCh:
			if err := p.broadcaster.Broadcast(ctx, task.eventType, task.data); err != nil {
				log.Error().Err(err).
					Int("worker_id", id).
					Str("event_type", task.eventType).
					Msg("broadcast failed")
			}
		}
	}
}
