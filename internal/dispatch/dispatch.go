// Package dispatch implements the single primitive that backs both delivery
// modes a consumer can choose: registering a callback (On/Once) or draining
// a channel (OnChan/OnceChan). Every registered callback gets its own job
// queue, processed by its own goroutine, so one slow listener does not
// delay another's receipt of the same event. Dispatch still returns only
// once every callback has finished with that event.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/trellisfw/oada-list-lib-go/internal/wire"
)

// DefaultQueueSize is the capacity of each callback's job queue and of
// each channel sink's buffer. A channel sink can hold that many undrained
// events before Dispatch blocks on it; a callback holds at most one job
// from sequential Dispatch calls, since Dispatch waits for its result.
const DefaultQueueSize = 16

type job struct {
	ctx    context.Context
	ev     wire.Event
	result chan<- error
}

type callbackSink struct {
	id       uint64
	listener wire.Listener
	once     bool
	jobs     chan job
}

func (s *callbackSink) run() {
	for j := range s.jobs {
		j.result <- invoke(j.ctx, s.listener, j.ev)
	}
}

func invoke(ctx context.Context, l wire.Listener, ev wire.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("oadalist: listener panic: %v", r)
		}
	}()
	return l(ctx, ev)
}

type channelSink struct {
	id   uint64
	once bool
	ch   chan wire.Event
}

// Registry holds every listener registered across every event kind and
// implements the one Dispatch primitive On/Once/OnChan/OnceChan share.
type Registry struct {
	mu        sync.Mutex
	nextID    uint64
	queueSize int
	callbacks map[wire.EventKind][]*callbackSink
	channels  map[wire.EventKind][]*channelSink
}

// New constructs an empty Registry. queueSize <= 0 uses DefaultQueueSize.
func New(queueSize int) *Registry {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Registry{
		queueSize: queueSize,
		callbacks: make(map[wire.EventKind][]*callbackSink),
		channels:  make(map[wire.EventKind][]*channelSink),
	}
}

// On registers l for every event of kind, returning a func that
// deregisters it.
func (r *Registry) On(kind wire.EventKind, l wire.Listener) func() {
	return r.register(kind, l, false)
}

// Once registers l to fire at most once, auto-deregistering itself
// immediately after that delivery completes.
func (r *Registry) Once(kind wire.EventKind, l wire.Listener) func() {
	return r.register(kind, l, true)
}

func (r *Registry) register(kind wire.EventKind, l wire.Listener, once bool) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	s := &callbackSink{id: r.nextID, listener: l, once: once, jobs: make(chan job, r.queueSize)}
	go s.run()
	r.callbacks[kind] = append(r.callbacks[kind], s)
	return func() { r.removeCallback(kind, s.id) }
}

// OnChan returns a channel of every event of kind, open until the returned
// func is called to deregister it.
func (r *Registry) OnChan(kind wire.EventKind) (<-chan wire.Event, func()) {
	return r.registerChan(kind, false)
}

// OnceChan returns a channel delivering at most one event of kind, closed
// immediately after.
func (r *Registry) OnceChan(kind wire.EventKind) (<-chan wire.Event, func()) {
	return r.registerChan(kind, true)
}

func (r *Registry) registerChan(kind wire.EventKind, once bool) (<-chan wire.Event, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	s := &channelSink{id: r.nextID, once: once, ch: make(chan wire.Event, r.queueSize)}
	r.channels[kind] = append(r.channels[kind], s)
	return s.ch, func() { r.removeChan(kind, s.id) }
}

func (r *Registry) removeCallback(kind wire.EventKind, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sinks := r.callbacks[kind]
	for i, s := range sinks {
		if s.id == id {
			close(s.jobs)
			r.callbacks[kind] = append(sinks[:i], sinks[i+1:]...)
			return
		}
	}
}

func (r *Registry) removeChan(kind wire.EventKind, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sinks := r.channels[kind]
	for i, s := range sinks {
		if s.id == id {
			close(s.ch)
			r.channels[kind] = append(sinks[:i], sinks[i+1:]...)
			return
		}
	}
}

// Dispatch delivers ev to every listener registered for ev.Kind and blocks
// until all of them have processed it (or the channel sinks have accepted
// it onto their buffer). It returns every callback error, in no particular
// order; the caller is responsible for recording them against the event's
// pointer and revision. Channel sinks never contribute an error here — a
// channel consumer surfaces its own failures as an EventError it sends
// itself, not something Dispatch can observe.
func (r *Registry) Dispatch(ctx context.Context, ev wire.Event) []error {
	r.mu.Lock()
	callbacks := append([]*callbackSink(nil), r.callbacks[ev.Kind]...)
	channels := append([]*channelSink(nil), r.channels[ev.Kind]...)
	r.mu.Unlock()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		errs   []error
		toStop []func()
	)

	for _, s := range callbacks {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := make(chan error, 1)
			select {
			case s.jobs <- job{ctx: ctx, ev: ev, result: result}:
			case <-ctx.Done():
				return
			}
			select {
			case err := <-result:
				if err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			case <-ctx.Done():
			}
		}()
		if s.once {
			id := s.id
			toStop = append(toStop, func() { r.removeCallback(ev.Kind, id) })
		}
	}

	for _, s := range channels {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case s.ch <- ev:
			case <-ctx.Done():
			}
		}()
		if s.once {
			id := s.id
			toStop = append(toStop, func() { r.removeChan(ev.Kind, id) })
		}
	}

	wg.Wait()
	for _, stop := range toStop {
		stop()
	}
	return errs
}
