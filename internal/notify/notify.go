// Package notify keeps the bridge popups shown to the user, keyed so each
// swap produces one popup per key.
package notify

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
)

// Status is the state a popup reports.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Popup is one user notification about a swap.
type Popup struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	SwapID    string    `json:"swapId"`
	Status    Status    `json:"status"`
	Direction string    `json:"direction,omitempty"`
	TxHash    string    `json:"txHash,omitempty"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Sink receives popups. Implementations must be safe for concurrent use.
type Sink interface {
	AddPopup(p Popup, key string, autoDismiss time.Duration)
}

// Handler is called for every popup added to a Registry.
type Handler func(Popup)

type entry struct {
	popup   Popup
	dismiss chan struct{}
}

// Registry is an in-memory Sink. A second popup under an existing key is
// dropped.
type Registry struct {
	clock clock.Clock

	mu       sync.Mutex
	popups   map[string]*entry
	handlers []Handler
	closed   bool

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewRegistry creates an empty registry. A nil clock uses the system clock.
func NewRegistry(clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	return &Registry{
		clock:  clk,
		popups: make(map[string]*entry),
		quit:   make(chan struct{}),
	}
}

// OnPopup registers a handler for new popups.
func (r *Registry) OnPopup(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, h)
}

// AddPopup stores p under key unless the key is taken. A positive
// autoDismiss removes it again after that delay.
func (r *Registry) AddPopup(p Popup, key string, autoDismiss time.Duration) {
	if key == "" {
		key = p.SwapID
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = r.clock.Now()
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if _, ok := r.popups[key]; ok {
		r.mu.Unlock()
		return
	}
	e := &entry{popup: p, dismiss: make(chan struct{})}
	r.popups[key] = e
	handlers := make([]Handler, len(r.handlers))
	copy(handlers, r.handlers)

	if autoDismiss > 0 {
		r.wg.Add(1)
		go r.expire(key, e, r.clock.TickAfter(autoDismiss))
	}
	r.mu.Unlock()

	for _, h := range handlers {
		h(p)
	}
}

func (r *Registry) expire(key string, e *entry, tick <-chan time.Time) {
	defer r.wg.Done()

	select {
	case <-tick:
	case <-e.dismiss:
		return
	case <-r.quit:
		return
	}

	r.mu.Lock()
	if r.popups[key] == e {
		delete(r.popups, key)
	}
	r.mu.Unlock()
}

// Dismiss removes the popup under key.
func (r *Registry) Dismiss(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.popups[key]
	if !ok {
		return false
	}
	delete(r.popups, key)
	close(e.dismiss)
	return true
}

// Get returns the popup under key.
func (r *Registry) Get(key string) (Popup, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.popups[key]
	if !ok {
		return Popup{}, false
	}
	return e.popup, true
}

// List returns the current popups, oldest first.
func (r *Registry) List() []Popup {
	r.mu.Lock()
	out := make([]Popup, 0, len(r.popups))
	for _, e := range r.popups {
		out = append(out, e.popup)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Close stops pending dismiss timers.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.quit)
	r.mu.Unlock()

	r.wg.Wait()
}

var _ Sink = (*Registry)(nil)

// Key returns the dedup key of the bridge popup for a swap.
func Key(swapID string) string {
	return "bridge-" + swapID
}

// StatusKey is Key for pending popups and a per-status key otherwise, so a
// swap shows one pending and one final popup.
func StatusKey(swapID string, st Status) string {
	if st == StatusPending {
		return Key(swapID)
	}
	return Key(swapID) + "-" + string(st)
}
