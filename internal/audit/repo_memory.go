package audit

import (
	"context"
	"sync"
)

// MemoryRepo keeps audit events in insertion order. Test use only.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
	byRef  map[string][]int
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{byRef: map[string][]int{}} }

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.Reference != "" {
		r.byRef[e.Reference] = append(r.byRef[e.Reference], len(r.events))
	}
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of every event.
func (r *MemoryRepo) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// ByReference returns the lifecycle of one payout, oldest first.
func (r *MemoryRepo) ByReference(reference string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.byRef[reference]
	out := make([]Event, 0, len(idx))
	for _, i := range idx {
		out = append(out, r.events[i])
	}
	return out
}
