package notifier

import (
	"sync"
	"time"
)

// dedup remembers recently sent alert keys until their window expires.
type dedup struct {
	mu    sync.Mutex
	until map[string]time.Time
}

func newDedup() *dedup { return &dedup{until: map[string]time.Time{}} }

// allow reports whether key may be sent now and, if so, opens its window.
func (d *dedup) allow(key string, now time.Time, window time.Duration, limit int) bool {
	if window <= 0 {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.until[key]; ok && now.Before(t) {
		return false
	}
	for k, t := range d.until {
		if !now.Before(t) {
			delete(d.until, k)
		}
	}
	for len(d.until) >= limit {
		d.evictOldest()
	}
	d.until[key] = now.Add(window)
	return true
}

func (d *dedup) evictOldest() {
	var (
		oldest string
		at     time.Time
	)
	for k, t := range d.until {
		if oldest == "" || t.Before(at) {
			oldest, at = k, t
		}
	}
	delete(d.until, oldest)
}

// history is a bounded log of delivered alerts.
type history struct {
	mu    sync.Mutex
	items []HistoryItem
	cap   int
}

func (h *history) add(a Alert, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append(h.items, HistoryItem{At: at, Kind: a.Kind, Text: a.Text})
	if over := len(h.items) - h.cap; over > 0 {
		h.items = append(h.items[:0:0], h.items[over:]...)
	}
}

func (h *history) list() []HistoryItem {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]HistoryItem(nil), h.items...)
}
