// internal/manager/dispatch.go
package manager

import (
	"sync"
)

// waiter receives the first response line after a command was written
type waiter struct {
	id string
	ch chan string
}

// dispatcher hands response lines from the reader to at most one waiter.
// Lines with no waiter registered are unsolicited and only published.
type dispatcher struct {
	mutex   sync.Mutex
	pending *waiter
}

func (d *dispatcher) register(id string) *waiter {
	w := &waiter{id: id, ch: make(chan string, 1)}
	d.mutex.Lock()
	d.pending = w
	d.mutex.Unlock()
	return w
}

func (d *dispatcher) cancel(w *waiter) {
	d.mutex.Lock()
	if d.pending == w {
		d.pending = nil
	}
	d.mutex.Unlock()
}

// deliver passes line to the pending waiter and reports whether one took it
func (d *dispatcher) deliver(line string) bool {
	d.mutex.Lock()
	w := d.pending
	d.pending = nil
	d.mutex.Unlock()

	if w == nil {
		return false
	}
	w.ch <- line
	return true
}
