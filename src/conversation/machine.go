// Package conversation tracks multi-turn input flows per chat actor.
package conversation

import (
	"errors"
	"sync"
	"time"

	"github.com/Vafelkin/outline-tg-bot/src/models"
)

// ErrFlowInProgress is returned by Begin when a different flow is pending
var ErrFlowInProgress = errors.New("another input flow is in progress")

// Kind is the input a flow waits for
type Kind string

const (
	KindKeyName    Kind = "await_key_name"
	KindLimitValue Kind = "await_limit_value"
	KindExpiryDate Kind = "await_expiry_date"
)

// State is the externally visible state of an actor
type State string

const (
	StateIdle               State = "idle"
	StateAwaitingKeyName    State = "awaiting_key_name"
	StateAwaitingLimitValue State = "awaiting_limit_value"
	StateAwaitingExpiryDate State = "awaiting_expiry_date"
)

// Policy decides what Begin does when a different flow is pending
type Policy string

const (
	// PolicyReject refuses the new flow with ErrFlowInProgress
	PolicyReject Policy = "reject"
	// PolicyReplace silently discards the pending flow
	PolicyReplace Policy = "replace"
)

// ParsePolicy maps a configuration value onto a Policy, defaulting to reject
func ParsePolicy(s string) Policy {
	if Policy(s) == PolicyReplace {
		return PolicyReplace
	}
	return PolicyReject
}

// Flow is the context captured when an action needs one more input
type Flow struct {
	Kind      Kind
	KeyID     string            // empty for creation flows
	Anchor    models.MessageRef // message replaced when the flow completes
	StartedAt time.Time
}

func (f *Flow) sameTarget(other Flow) bool {
	return f.Kind == other.Kind && f.KeyID == other.KeyID
}

func (f *Flow) state() State {
	switch f.Kind {
	case KindKeyName:
		return StateAwaitingKeyName
	case KindLimitValue:
		return StateAwaitingLimitValue
	case KindExpiryDate:
		return StateAwaitingExpiryDate
	}
	return StateIdle
}

type slot struct {
	mu   sync.Mutex
	flow *Flow
}

// Machine holds at most one flow per actor. Access to one actor's flow is
// serialized by a per-actor slot; different actors never contend beyond the
// slot lookup.
type Machine struct {
	mu     sync.Mutex
	slots  map[int64]*slot
	ttl    time.Duration
	policy Policy
	now    func() time.Time
}

// New creates a machine. A zero ttl keeps flows until they are consumed.
func New(ttl time.Duration, policy Policy) *Machine {
	return &Machine{
		slots:  make(map[int64]*slot),
		ttl:    ttl,
		policy: policy,
		now:    time.Now,
	}
}

// lock returns the actor's slot locked. The map lock is held until the
// slot lock is taken so Sweep never removes a slot in use.
func (m *Machine) lock(actorID int64) *slot {
	m.mu.Lock()
	s, ok := m.slots[actorID]
	if !ok {
		s = &slot{}
		m.slots[actorID] = s
	}
	s.mu.Lock()
	m.mu.Unlock()
	return s
}

func (m *Machine) stale(f *Flow, now time.Time) bool {
	return m.ttl > 0 && now.Sub(f.StartedAt) > m.ttl
}

// live returns the slot's flow, dropping it when stale. Caller holds s.mu.
func (m *Machine) live(s *slot) *Flow {
	if s.flow != nil && m.stale(s.flow, m.now()) {
		s.flow = nil
	}
	return s.flow
}

// Begin starts a flow for actorID. Restarting the same flow refreshes it.
func (m *Machine) Begin(actorID int64, flow Flow) error {
	s := m.lock(actorID)
	defer s.mu.Unlock()

	flow.StartedAt = m.now()
	if cur := m.live(s); cur != nil && !cur.sameTarget(flow) && m.policy != PolicyReplace {
		return ErrFlowInProgress
	}
	s.flow = &flow
	return nil
}

// Take consumes the pending flow. A flow is returned at most once.
func (m *Machine) Take(actorID int64) (Flow, bool) {
	s := m.lock(actorID)
	defer s.mu.Unlock()

	f := m.live(s)
	if f == nil {
		return Flow{}, false
	}
	s.flow = nil
	return *f, true
}

// Peek returns the pending flow without consuming it
func (m *Machine) Peek(actorID int64) (Flow, bool) {
	s := m.lock(actorID)
	defer s.mu.Unlock()

	f := m.live(s)
	if f == nil {
		return Flow{}, false
	}
	return *f, true
}

// Cancel abandons the pending flow and reports whether there was one
func (m *Machine) Cancel(actorID int64) bool {
	_, ok := m.Take(actorID)
	return ok
}

// State returns the actor's current state
func (m *Machine) State(actorID int64) State {
	f, ok := m.Peek(actorID)
	if !ok {
		return StateIdle
	}
	return f.state()
}

// Sweep removes empty and stale slots and returns how many flows expired
func (m *Machine) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	expired := 0
	for id, s := range m.slots {
		s.mu.Lock()
		if s.flow != nil && m.stale(s.flow, now) {
			s.flow = nil
			expired++
		}
		if s.flow == nil {
			delete(m.slots, id)
		}
		s.mu.Unlock()
	}
	return expired
}

// Len returns the number of tracked actors
func (m *Machine) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}
