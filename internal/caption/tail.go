package caption

import (
	"sync"
	"time"
)

// Entry is a caption remembered by Tail.
type Entry struct {
	Seq      uint64    `json:"seq"`
	Text     string    `json:"text"`
	Original string    `json:"original,omitempty"`
	IsError  bool      `json:"is_error,omitempty"`
	Time     time.Time `json:"time"`
}

// Tail is a Subscriber that keeps the most recent captions in memory for
// status reports.
type Tail struct {
	mu      sync.Mutex
	size    int
	entries []Entry
}

// NewTail keeps up to size entries.
func NewTail(size int) *Tail {
	if size < 1 {
		size = 1
	}
	return &Tail{size: size, entries: make([]Entry, 0, size)}
}

func (t *Tail) Deliver(ev Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, Entry{
		Seq:      ev.Seq,
		Text:     ev.Text,
		Original: ev.Original,
		IsError:  ev.IsError,
		Time:     time.Now(),
	})
	if len(t.entries) > t.size {
		t.entries = t.entries[len(t.entries)-t.size:]
	}
	return nil
}

// Recent returns a copy of the remembered entries, oldest first.
func (t *Tail) Recent() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Reset forgets every entry.
func (t *Tail) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = t.entries[:0]
}

func (t *Tail) Close() error { return nil }
