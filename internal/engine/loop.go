package engine

import "sync"

// Loop is the single-threaded cooperative task runtime spec.md §5
// describes: one goroutine drives the script engine at a time, while
// asynchronous work (timers, pending fetches) resumes through the
// function RegisterCallback returns. The contract: Start runs
// synchronously until every callback registered during it has been
// delivered, and WaitOnRegistered drains whatever is still outstanding
// after an early error.
type Loop struct {
	mu      sync.Mutex
	queue   []func() error
	pending int
	wakeup  chan struct{}
}

// NewLoop returns an idle Loop ready for its first Start call.
func NewLoop() *Loop {
	return &Loop{wakeup: make(chan struct{}, 1)}
}

// RegisterCallback reserves one pending async slot and returns the
// resumer the async caller must invoke exactly once with its result.
// Calling the resumer a second time panics.
func (l *Loop) RegisterCallback() func(func() error) {
	l.mu.Lock()
	l.pending++
	l.mu.Unlock()

	var fireMu sync.Mutex
	fired := false
	return func(f func() error) {
		fireMu.Lock()
		if fired {
			fireMu.Unlock()
			panic("engine: callback already called")
		}
		fired = true
		fireMu.Unlock()

		l.mu.Lock()
		l.queue = append(l.queue, f)
		l.mu.Unlock()

		select {
		case l.wakeup <- struct{}{}:
		default:
		}
	}
}

func (l *Loop) pop() (func() error, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	f := l.queue[0]
	l.queue = l.queue[1:]
	l.pending--
	return f, true
}

func (l *Loop) hasPending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending > 0
}

// Start runs f, then processes queued callbacks until none remain
// registered. The first error from f or from a queued callback returns
// immediately, leaving any still-outstanding registrations for
// WaitOnRegistered to drain.
func (l *Loop) Start(f func() error) error {
	if err := f(); err != nil {
		return err
	}
	for l.hasPending() {
		cb, ok := l.pop()
		if !ok {
			<-l.wakeup
			continue
		}
		if err := cb(); err != nil {
			return err
		}
	}
	return nil
}

// WaitOnRegistered blocks until every callback registered before an
// early Start return has been delivered and run, discarding their
// errors, so the goroutines that hold their resumers never leak.
func (l *Loop) WaitOnRegistered() {
	for l.hasPending() {
		cb, ok := l.pop()
		if !ok {
			<-l.wakeup
			continue
		}
		_ = cb()
	}
}
