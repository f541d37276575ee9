package core

import "sync"

// Dispatcher is the single delivery context for asynchronous callbacks: one
// goroutine runs posted functions in FIFO order. Post never blocks, so worker
// goroutines can hand results over while holding no locks on the consumer.
type Dispatcher struct {
	mu      sync.Mutex
	pending []func()
	closed  bool

	wake chan struct{}
	done chan struct{}
	once sync.Once
	stop sync.Once
}

// NewDispatcher creates a Dispatcher. Call Start to begin delivery; functions
// posted earlier are kept and run once started.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Start launches the delivery goroutine. It is idempotent.
func (d *Dispatcher) Start() {
	d.once.Do(func() { go d.loop() })
}

// Post queues fn. Returns false once the dispatcher is stopped.
func (d *Dispatcher) Post(fn func()) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.pending = append(d.pending, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

// Stop refuses new work, runs everything already posted and waits for the
// delivery goroutine to exit.
func (d *Dispatcher) Stop() {
	d.stop.Do(func() {
		d.Start()
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		select {
		case d.wake <- struct{}{}:
		default:
		}
		<-d.done
	})
}

// Flush blocks until every function posted before the call has run.
func (d *Dispatcher) Flush() {
	ch := make(chan struct{})
	if !d.Post(func() { close(ch) }) {
		return
	}
	<-ch
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for range d.wake {
		for {
			d.mu.Lock()
			batch := d.pending
			d.pending = nil
			closed := d.closed
			d.mu.Unlock()

			if len(batch) == 0 {
				if closed {
					return
				}
				break
			}
			for _, fn := range batch {
				fn()
			}
		}
	}
}
