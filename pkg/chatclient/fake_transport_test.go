package chatclient

import (
	"sync"

	"github.com/storeline/storechat/pkg/wire"
)

// fakeTransport records emitted events and lets tests inject server
// pushes and state transitions.
type fakeTransport struct {
	mu      sync.Mutex
	emitted []wire.Event
	emitErr error

	events chan wire.ServerEvent
	states chan ConnState
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events: make(chan wire.ServerEvent, 64),
		states: make(chan ConnState, 8),
	}
}

func (f *fakeTransport) Emit(ev wire.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.emitted = append(f.emitted, ev)
	return nil
}

func (f *fakeTransport) Events() <-chan wire.ServerEvent { return f.events }
func (f *fakeTransport) States() <-chan ConnState        { return f.states }
func (f *fakeTransport) Close() error                    { return nil }

func (f *fakeTransport) failEmits(err error) {
	f.mu.Lock()
	f.emitErr = err
	f.mu.Unlock()
}

func (f *fakeTransport) sent() []wire.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wire.Event, len(f.emitted))
	copy(out, f.emitted)
	return out
}

func (f *fakeTransport) lastSent() wire.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.emitted) == 0 {
		return nil
	}
	return f.emitted[len(f.emitted)-1]
}
