package warming

import (
	"sort"
	"sync"
	"time"

	"github.com/huykn/actioncache/types"
)

// Access is one recorded cache lookup.
type Access struct {
	Action types.ObjectAction
	Key    types.CacheKey
	Hit    bool
	Time   time.Time
}

// history is a bounded ring of accesses.
type history struct {
	mu    sync.Mutex
	buf   []Access
	next  int
	full  bool
	limit int
}

func newHistory(limit int) *history {
	return &history{buf: make([]Access, limit), limit: limit}
}

func (h *history) add(a Access) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = a
	h.next = (h.next + 1) % h.limit
	if h.next == 0 {
		h.full = true
	}
}

// snapshot returns the accesses oldest first.
func (h *history) snapshot() []Access {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		return append([]Access(nil), h.buf[:h.next]...)
	}
	out := make([]Access, 0, h.limit)
	out = append(out, h.buf[h.next:]...)
	return append(out, h.buf[:h.next]...)
}

func (h *history) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.full {
		return h.limit
	}
	return h.next
}

// ranked is a distinct key with its access statistics.
type ranked struct {
	action types.ObjectAction
	key    string
	count  int
	last   time.Time
	hour   int // accesses in the current hour of day
}

// rank groups accesses by cache key and orders them by count, then by
// most recent access, then by key.
func rank(accesses []Access, hour int) []ranked {
	idx := make(map[string]int)
	var out []ranked
	for _, a := range accesses {
		k := a.Key.String()
		i, ok := idx[k]
		if !ok {
			i = len(out)
			idx[k] = i
			out = append(out, ranked{key: k})
		}
		r := &out[i]
		r.count++
		if !a.Time.Before(r.last) {
			r.last = a.Time
			r.action = a.Action
		}
		if a.Time.Hour() == hour {
			r.hour++
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		if !out[i].last.Equal(out[j].last) {
			return out[i].last.After(out[j].last)
		}
		return out[i].key < out[j].key
	})
	return out
}
