package kb

import (
	"fmt"
	"sync"

	"github.com/signalsfoundry/dama-controller/model"
)

// EventType indicates what kind of change happened in the registry.
type EventType int

const (
	EventLogon EventType = iota
	EventLogoff
	EventReaffected
)

// Registration records which carrier group a terminal is currently mapped to.
type Registration struct {
	Terminal model.TerminalID
	Category string
	Group    model.CarrierGroupID
}

// Event is emitted to subscribers when a terminal logs on or off, or moves to
// another carrier group.
type Event struct {
	Type         EventType
	Registration Registration
}

// TerminalRegistry is an in-memory, thread-safe store of logged-on terminals.
// The frame-driving goroutine subscribes to it so logons create terminal
// contexts in the controller and logoffs destroy them; the registry itself
// never touches allocation state.
type TerminalRegistry struct {
	mu sync.RWMutex

	registrations map[model.TerminalID]*Registration

	subs []func(Event)
}

// NewTerminalRegistry constructs an empty registry.
func NewTerminalRegistry() *TerminalRegistry {
	return &TerminalRegistry{
		registrations: make(map[model.TerminalID]*Registration),
	}
}

// Logon registers a terminal on a carrier group. It returns an error if the
// terminal is already registered.
func (r *TerminalRegistry) Logon(id model.TerminalID, category string, group model.CarrierGroupID) error {
	r.mu.Lock()
	if _, exists := r.registrations[id]; exists {
		r.mu.Unlock()
		return fmt.Errorf("terminal %d already registered", id)
	}
	reg := &Registration{Terminal: id, Category: category, Group: group}
	r.registrations[id] = reg
	event := Event{Type: EventLogon, Registration: *reg}
	subs := append([]func(Event){}, r.subs...)
	r.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	for _, sub := range subs {
		sub(event)
	}
	return nil
}

// Logoff removes a terminal registration.
func (r *TerminalRegistry) Logoff(id model.TerminalID) error {
	r.mu.Lock()
	reg, ok := r.registrations[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("terminal %d not registered", id)
	}
	delete(r.registrations, id)
	event := Event{Type: EventLogoff, Registration: *reg}
	subs := append([]func(Event){}, r.subs...)
	r.mu.Unlock()

	for _, sub := range subs {
		sub(event)
	}
	return nil
}

// Reaffect moves a registered terminal to another carrier group (DRA change)
// and notifies subscribers.
func (r *TerminalRegistry) Reaffect(id model.TerminalID, category string, group model.CarrierGroupID) error {
	r.mu.Lock()
	reg, ok := r.registrations[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("terminal %d not registered", id)
	}
	reg.Category = category
	reg.Group = group
	event := Event{Type: EventReaffected, Registration: *reg}
	subs := append([]func(Event){}, r.subs...)
	r.mu.Unlock()

	for _, sub := range subs {
		sub(event)
	}
	return nil
}

// Get returns the registration for a terminal, or nil if not registered.
func (r *TerminalRegistry) Get(id model.TerminalID) *Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if reg, ok := r.registrations[id]; ok {
		copied := *reg
		return &copied
	}
	return nil
}

// List returns a snapshot of all registrations.
func (r *TerminalRegistry) List() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]Registration, 0, len(r.registrations))
	for _, reg := range r.registrations {
		res = append(res, *reg)
	}
	return res
}

// Subscribe registers a callback for registry events. It returns an
// unsubscribe function.
func (r *TerminalRegistry) Subscribe(fn func(Event)) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, fn)
	idx := len(r.subs) - 1

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if idx < 0 || idx >= len(r.subs) {
			return
		}
		r.subs = append(r.subs[:idx], r.subs[idx+1:]...)
		idx = -1
	}
}
