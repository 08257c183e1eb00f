package service

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Sender delivers a single notice.
type Sender interface {
	Send(ctx context.Context, n Notice) error
}

// Notifier accepts notices without blocking the caller.
type Notifier interface {
	Dispatch(n Notice) bool
}

// NotificationDispatcher is a bounded queue drained by a fixed pool of workers.
// Payment state is committed before a notice is queued; nothing here can undo it.
type NotificationDispatcher struct {
	sender  Sender
	queue   chan Notice
	workers int
	timeout time.Duration
	wg      sync.WaitGroup
	dropped atomic.Int64
	failed  atomic.Int64
}

func NewNotificationDispatcher(sender Sender, queueSize, workers int) *NotificationDispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if workers <= 0 {
		workers = 1
	}
	return &NotificationDispatcher{
		sender:  sender,
		queue:   make(chan Notice, queueSize),
		workers: workers,
		timeout: 10 * time.Second,
	}
}

// Start launches the workers. They stop when ctx is done, after delivering what is already queued.
func (d *NotificationDispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(ctx)
	}
}

// Wait blocks until every worker has exited.
func (d *NotificationDispatcher) Wait() {
	d.wg.Wait()
}

// Dispatch queues n, or drops it when the queue is full.
func (d *NotificationDispatcher) Dispatch(n Notice) bool {
	select {
	case d.queue <- n:
		return true
	default:
		d.dropped.Add(1)
		log.Printf("[NOTIFY] queue full, dropped %s order=%s", n.Kind, n.OrderID)
		return false
	}
}

func (d *NotificationDispatcher) Dropped() int64 { return d.dropped.Load() }
func (d *NotificationDispatcher) Failed() int64  { return d.failed.Load() }

func (d *NotificationDispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case n := <-d.queue:
			d.deliver(n)
		case <-ctx.Done():
			for {
				select {
				case n := <-d.queue:
					d.deliver(n)
				default:
					return
				}
			}
		}
	}
}

func (d *NotificationDispatcher) deliver(n Notice) {
	// Detached from any request: the webhook that caused this has already been answered.
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			log.Printf("[NOTIFY] panic delivering %s order=%s: %v", n.Kind, n.OrderID, r)
		}
	}()
	if err := d.sender.Send(ctx, n); err != nil {
		d.failed.Add(1)
		log.Printf("[NOTIFY] failed %s order=%s: %v", n.Kind, n.OrderID, err)
	}
}
