package subscription

import (
	"sync"
	"time"
)

// TimerGroup owns every timer of one session. Stop cancels all of them and
// refuses new ones, so nothing scheduled by a torn-down session can fire
// into the next.
type TimerGroup struct {
	mu      sync.Mutex
	next    int
	stops   map[int]func()
	stopped bool
}

// NewTimerGroup creates an empty group
func NewTimerGroup() *TimerGroup {
	return &TimerGroup{stops: make(map[int]func())}
}

// AfterFunc runs f once after d. It returns false if the group is stopped.
func (g *TimerGroup) AfterFunc(d time.Duration, f func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return false
	}

	id := g.next
	g.next++
	t := time.AfterFunc(d, func() {
		if !g.release(id) {
			return
		}
		f()
	})
	g.stops[id] = func() { t.Stop() }
	return true
}

// Every runs f every d until the group is stopped. Calls never overlap.
func (g *TimerGroup) Every(d time.Duration, f func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return false
	}

	id := g.next
	g.next++
	ticker := time.NewTicker(d)
	done := make(chan struct{})
	g.stops[id] = func() {
		ticker.Stop()
		close(done)
	}

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				select {
				case <-done:
					return
				default:
				}
				f()
			}
		}
	}()
	return true
}

// release forgets a fired one-shot timer. It reports false when the group
// was stopped in the meantime.
func (g *TimerGroup) release(id int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return false
	}
	delete(g.stops, id)
	return true
}

// Len returns the number of pending timers
func (g *TimerGroup) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.stops)
}

// Stop cancels every pending timer. It does not wait for a callback that
// is already running.
func (g *TimerGroup) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return
	}
	g.stopped = true
	for id, stop := range g.stops {
		stop()
		delete(g.stops, id)
	}
}
