// Package loop provides the single event-servicing goroutine that owns all
// hierarchy mutation, eviction sweeps and persistence work.
package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codefionn/ryxsurf/internal/logger"
)

var (
	// ErrStopped is returned when work is posted to a loop that has been stopped.
	ErrStopped = errors.New("loop is stopped")
	// ErrMailboxFull is returned by Post when the mailbox cannot take more work.
	ErrMailboxFull = errors.New("loop mailbox is full")
	// ErrPanicked is returned by Call when the function panicked.
	ErrPanicked = errors.New("task panicked")
)

// DefaultMailboxSize is used when New is given a non-positive size.
const DefaultMailboxSize = 256

// Loop executes posted functions one at a time on a dedicated goroutine.
type Loop struct {
	name    string
	mailbox chan func()
	log     *logger.Logger

	mu       sync.RWMutex
	started  bool
	stopped  atomic.Bool
	quit     chan struct{}
	quitOnce sync.Once
	wg       sync.WaitGroup

	ticketsMu sync.Mutex
	tickets   map[*Ticket]struct{}

	processed atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a loop with the given mailbox capacity. Call Start before posting.
func New(name string, mailboxSize int) *Loop {
	if mailboxSize <= 0 {
		mailboxSize = DefaultMailboxSize
	}
	return &Loop{
		name:    name,
		mailbox: make(chan func(), mailboxSize),
		log:     logger.Global().WithPrefix("loop"),
		quit:    make(chan struct{}),
		tickets: make(map[*Ticket]struct{}),
	}
}

// Name returns the loop's name.
func (l *Loop) Name() string {
	return l.name
}

// Start launches the loop goroutine. Starting twice is a no-op.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started || l.stopped.Load() {
		return
	}
	l.started = true

	l.wg.Add(1)
	go l.run(ctx)
}

// Post enqueues fn without blocking.
func (l *Loop) Post(fn func()) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.stopped.Load() {
		return ErrStopped
	}

	select {
	case l.mailbox <- fn:
		return nil
	default:
		l.dropped.Add(1)
		return fmt.Errorf("%w (%s)", ErrMailboxFull, l.name)
	}
}

// Call runs fn on the loop and waits for its result. It must not be invoked
// from inside a function already running on the loop.
func (l *Loop) Call(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	task := func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %v", ErrPanicked, r)
				panic(r)
			}
		}()
		done <- fn()
	}

	if err := l.enqueueWait(ctx, task); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) enqueueWait(ctx context.Context, task func()) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.stopped.Load() {
		return ErrStopped
	}

	select {
	case l.mailbox <- task:
		return nil
	case <-l.quit:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new work, runs everything already queued, cancels all
// recurring tasks and waits for the loop goroutine to exit.
func (l *Loop) Stop(ctx context.Context) error {
	l.cancelTickets()

	l.mu.Lock()
	if l.stopped.Load() {
		l.mu.Unlock()
		return nil
	}
	l.stopped.Store(true)
	started := l.started
	l.closeQuit()
	l.mu.Unlock()

	if !started {
		l.drain()
		return nil
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.log.Debug("%s stopped after %d tasks (%d dropped)", l.name, l.processed.Load(), l.dropped.Load())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the number of processed and dropped tasks.
func (l *Loop) Stats() (processed, dropped uint64) {
	return l.processed.Load(), l.dropped.Load()
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	for {
		select {
		case fn := <-l.mailbox:
			l.exec(fn)
		case <-l.quit:
			l.drain()
			return
		case <-ctx.Done():
			// Abrupt shutdown: work posted concurrently with cancellation may be lost.
			l.stopped.Store(true)
			l.closeQuit()
			l.drain()
			return
		}
	}
}

func (l *Loop) closeQuit() {
	l.quitOnce.Do(func() { close(l.quit) })
}

func (l *Loop) drain() {
	for {
		select {
		case fn := <-l.mailbox:
			l.exec(fn)
		default:
			return
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("%s: task panicked: %v", l.name, r)
		}
	}()
	fn()
	l.processed.Add(1)
}

// Ticket is the cancellation handle of a recurring task.
type Ticket struct {
	name    string
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	pending atomic.Bool
	owner   *Loop
}

// Name returns the task name given to Every.
func (t *Ticket) Name() string {
	return t.name
}

// Cancel stops the recurring task and waits for its ticker to exit. Safe to call repeatedly.
func (t *Ticket) Cancel() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		close(t.stop)
	})
	<-t.done

	t.owner.ticketsMu.Lock()
	delete(t.owner.tickets, t)
	t.owner.ticketsMu.Unlock()
}

// Every schedules fn on the loop once per interval until the returned ticket
// is cancelled. A tick is skipped while the previous one is still queued, and
// dropped when the mailbox is full.
func (l *Loop) Every(interval time.Duration, name string, fn func()) *Ticket {
	t := &Ticket{
		name:  name,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		owner: l,
	}

	l.ticketsMu.Lock()
	l.tickets[t] = struct{}{}
	l.ticketsMu.Unlock()

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				if !t.pending.CompareAndSwap(false, true) {
					l.log.Debug("%s: previous %s tick still queued, skipping", l.name, name)
					continue
				}
				err := l.Post(func() {
					defer t.pending.Store(false)
					select {
					case <-t.stop:
						return
					default:
					}
					fn()
				})
				switch {
				case errors.Is(err, ErrStopped):
					t.pending.Store(false)
					return
				case err != nil:
					t.pending.Store(false)
					l.log.Warn("%s: dropped %s tick: %v", l.name, name, err)
				}
			}
		}
	}()

	return t
}

func (l *Loop) cancelTickets() {
	l.ticketsMu.Lock()
	tickets := make([]*Ticket, 0, len(l.tickets))
	for t := range l.tickets {
		tickets = append(tickets, t)
	}
	l.ticketsMu.Unlock()

	for _, t := range tickets {
		t.Cancel()
	}
}
