package channels

import "sync"

// Dedup remembers the last n ids seen so redelivered platform events are
// processed once. Safe for concurrent use.
type Dedup struct {
	mu    sync.Mutex
	seen  map[string]bool
	order []string
	limit int
}

func NewDedup(limit int) *Dedup {
	if limit <= 0 {
		limit = 1000
	}
	return &Dedup{
		seen:  make(map[string]bool, limit),
		limit: limit,
	}
}

// Seen records id and reports whether it was already present.
func (d *Dedup) Seen(id string) bool {
	if id == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.seen[id] {
		return true
	}

	d.seen[id] = true
	d.order = append(d.order, id)
	if len(d.order) > d.limit {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}
	return false
}
