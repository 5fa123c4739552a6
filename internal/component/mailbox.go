package component

import (
	"errors"
	"sync"

	"github.com/rdeforest/ClodWeave/internal/envelope"
)

var errMailboxFull = errors.New("mailbox full")

// mailbox queues inbound envelopes in one FIFO lane per source. Each lane
// is drained by at most one goroutine at a time, so envelopes from one
// source reach the handler in send order while different sources proceed
// concurrently. The limit bounds the total number of queued envelopes.
type mailbox struct {
	mu     sync.Mutex
	lanes  map[string][]*envelope.Envelope
	active map[string]bool
	queued int
	limit  int
}

// push enqueues env on its source's lane. It reports whether the caller
// holds that lane's drain claim and must start draining it.
func (m *mailbox) push(env *envelope.Envelope) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.limit > 0 && m.queued >= m.limit {
		return false, errMailboxFull
	}
	if m.lanes == nil {
		m.lanes = make(map[string][]*envelope.Envelope)
		m.active = make(map[string]bool)
	}

	src := env.Meta.Source
	m.lanes[src] = append(m.lanes[src], env)
	m.queued++
	if m.active[src] {
		return false, nil
	}
	m.active[src] = true
	return true, nil
}

// next dequeues the next envelope from src's lane. When the lane is empty
// it releases the drain claim in the same critical section, so a concurrent
// push always either lands before the release or wins the next claim.
func (m *mailbox) next(src string) (*envelope.Envelope, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.lanes[src]
	if len(q) == 0 {
		delete(m.lanes, src)
		delete(m.active, src)
		return nil, false
	}
	env := q[0]
	q[0] = nil
	m.lanes[src] = q[1:]
	m.queued--
	return env, true
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queued
}
