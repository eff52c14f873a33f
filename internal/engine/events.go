package engine

import (
	"sync"

	"dna-messenger/pkg/model"
)

// EventCode is the stable FFI-facing event identifier.
type EventCode int

const (
	EventMessageReceived       EventCode = 1
	EventContactOnline         EventCode = 2
	EventContactOffline        EventCode = 3
	EventGroupInvitationReceived EventCode = 4
	EventIdentityLoaded        EventCode = 5
	EventOutboxUpdated         EventCode = 6
	EventError                 EventCode = 99
)

// Event is dispatched to the host application's listener.
type Event struct {
	Code        EventCode
	Message     *model.Message
	ContactFP   model.Fingerprint
	GroupUUID   string
	Err         error
}

const eventChannelCapacity = 256

// Dispatcher owns the bounded host event channel. If the channel is full,
// a new OutboxUpdated is dropped; which contacts already have one queued is
// not checked, so an update for a contact with nothing queued can be lost
// too. Every other event type blocks the
// dispatching goroutine — never the DHT worker pool, which has already
// handed off to the engine's own worker — until there is room, so
// MessageReceived is never silently dropped.
type Dispatcher struct {
	mu       sync.Mutex
	ch       chan Event
	listener func(Event)
}

func newDispatcher() *Dispatcher {
	return &Dispatcher{ch: make(chan Event, eventChannelCapacity)}
}

// SetEventListener registers fn as the sole consumer of dispatched events.
// Replaces any previously set listener.
func (d *Dispatcher) SetEventListener(fn func(Event)) {
	d.mu.Lock()
	d.listener = fn
	d.mu.Unlock()
}

// Dispatch emits ev, best-effort and single-threaded, with the
// one exception that MessageReceived must never be dropped.
func (d *Dispatcher) Dispatch(ev Event) {
	if ev.Code == EventOutboxUpdated {
		select {
		case d.ch <- ev:
		default:
			// channel full: this OutboxUpdated is dropped, whatever
			// contact it is for.
		}
		return
	}
	d.ch <- ev
}

// Run drains the event channel on the caller's goroutine, invoking the
// registered listener for each event, until stop is closed.
func (d *Dispatcher) Run(stop <-chan struct{}) {
	for {
		select {
		case ev := <-d.ch:
			d.mu.Lock()
			fn := d.listener
			d.mu.Unlock()
			if fn != nil {
				fn(ev)
			}
		case <-stop:
			return
		}
	}
}
