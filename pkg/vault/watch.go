package vault

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/forest6511/nimbusvault/pkg/audit"
)

// Event describes one committed mutation or lock transition. Events carry
// ids and counts only.
type Event struct {
	Seq   uint64    `json:"seq"`
	Op    string    `json:"op"`
	ID    string    `json:"id,omitempty"`
	Count int       `json:"count,omitempty"`
	At    time.Time `json:"at"`

	// quiet marks a no-op write that is neither audited nor published.
	quiet bool
}

// Snapshot is one push of a live listing. Err is set when the listing
// could not be produced; after ErrVaultLocked the channel is closed.
type Snapshot struct {
	Items []ItemSummary
	Err   error
}

// hub fans out events to subscribers in publication order. Queues are
// unbounded so a slow subscriber never blocks a writer or loses an event.
type hub struct {
	mu     sync.Mutex
	seq    uint64
	nextID uint64
	subs   map[uint64]*subscriber
	closed bool
}

type subscriber struct {
	mu     sync.Mutex
	queue  []Event
	notify chan struct{}
	done   chan struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[uint64]*subscriber)}
}

func (h *hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.seq++
	ev.Seq = h.seq
	for _, s := range h.subs {
		s.push(ev)
	}
}

func (h *hub) add() (uint64, *subscriber, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, nil, errClosed
	}
	h.nextID++
	s := &subscriber{notify: make(chan struct{}, 1), done: make(chan struct{})}
	h.subs[h.nextID] = s
	return h.nextID, s, nil
}

func (h *hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, s := range h.subs {
		close(s.done)
		delete(h.subs, id)
	}
}

func (s *subscriber) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber) drain() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queue
	s.queue = nil
	return q
}

var errClosed = errors.New("vault: vault is closed")

// Subscribe streams every commit event in commit order until ctx is done,
// the vault is closed, or the vault locks. The lock event is delivered
// before the channel closes.
func (v *Vault) Subscribe(ctx context.Context) (<-chan Event, error) {
	if err := v.requireUnlocked(); err != nil {
		return nil, err
	}
	id, s, err := v.hub.add()
	if err != nil {
		return nil, err
	}
	out := make(chan Event)
	go func() {
		defer close(out)
		defer v.hub.remove(id)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-s.notify:
			}
			for _, ev := range s.drain() {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				case <-s.done:
					return
				}
				if ev.Op == audit.OpVaultLock {
					return
				}
			}
		}
	}()
	return out, nil
}

// Watch pushes the listing for f now and again after every committed
// mutation. Bursts of commits may be coalesced into one push, but a push
// always reflects every commit published before it. When the vault locks
// the final push carries ErrVaultLocked and the channel closes. Cancelling
// ctx closes the channel and never affects writes.
func (v *Vault) Watch(ctx context.Context, f Filter) (<-chan Snapshot, error) {
	if err := v.requireUnlocked(); err != nil {
		return nil, err
	}
	id, s, err := v.hub.add()
	if err != nil {
		return nil, err
	}
	first, err := v.ListItems(ctx, f)
	if err != nil {
		v.hub.remove(id)
		return nil, err
	}

	out := make(chan Snapshot)
	go func() {
		defer close(out)
		defer v.hub.remove(id)

		send := func(snap Snapshot) bool {
			select {
			case out <- snap:
				return true
			case <-ctx.Done():
				return false
			case <-s.done:
				return false
			}
		}
		if !send(Snapshot{Items: first}) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-s.notify:
			}
			locked := false
			for _, ev := range s.drain() {
				if ev.Op == audit.OpVaultLock {
					locked = true
				}
			}
			if locked {
				send(Snapshot{Err: ErrVaultLocked})
				return
			}
			items, err := v.ListItems(ctx, f)
			if ctx.Err() != nil {
				return
			}
			if !send(Snapshot{Items: items, Err: err}) || errors.Is(err, ErrVaultLocked) {
				return
			}
		}
	}()
	return out, nil
}
