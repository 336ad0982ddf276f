package presence

import "sync"

// Cell holds the latest presence event and notifies subscribers of changes.
// Subscribers receive the latest value only; a slow reader skips
// intermediate states rather than blocking the writer.
type Cell struct {
	mu      sync.RWMutex
	current Event
	subs    map[int]chan Event
	nextID  int
}

// NewCell creates a cell holding UNKNOWN.
func NewCell() *Cell {
	return &Cell{
		current: Event{State: Unknown},
		subs:    make(map[int]chan Event),
	}
}

// Get returns the latest event.
func (c *Cell) Get() Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Set stores ev and notifies subscribers.
func (c *Cell) Set(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = ev
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- ev
	}
}

// Subscribe returns a channel that receives the current event immediately
// and every later one. Call the returned func to unsubscribe.
func (c *Cell) Subscribe() (<-chan Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	ch := make(chan Event, 1)
	ch <- c.current
	c.subs[id] = ch

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
	}
}
