package app

import (
	"sync"

	"coach-assessment-service/internal/domain"
)

// ProgressHub fans out progress updates to the sockets watching an assessment.
type ProgressHub struct {
	mu          sync.Mutex
	subscribers map[string]map[chan domain.Progress]struct{}
}

func NewProgressHub() *ProgressHub {
	return &ProgressHub{subscribers: make(map[string]map[chan domain.Progress]struct{})}
}

// Subscribe registers a channel primed with initial. The cancel func closes it.
func (h *ProgressHub) Subscribe(assessmentID string, initial domain.Progress) (<-chan domain.Progress, func()) {
	ch := make(chan domain.Progress, 8)
	ch <- initial

	h.mu.Lock()
	subs, ok := h.subscribers[assessmentID]
	if !ok {
		subs = make(map[chan domain.Progress]struct{})
		h.subscribers[assessmentID] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.subscribers[assessmentID]
		if _, ok := subs[ch]; !ok {
			return
		}
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(h.subscribers, assessmentID)
		}
	}
	return ch, cancel
}

// Publish delivers p to every subscriber of its assessment. A subscriber whose buffer is
// full loses its oldest pending update.
func (h *ProgressHub) Publish(p domain.Progress) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subscribers[p.Assessment.ID]
	if len(subs) == 0 {
		return
	}
	p.Assessment = p.Assessment.Clone()
	for ch := range subs {
		select {
		case ch <- p:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- p
		}
	}
}

// Subscribers reports how many channels watch assessmentID.
func (h *ProgressHub) Subscribers(assessmentID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[assessmentID])
}
