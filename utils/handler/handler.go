// Package handler dispatches typed events to callbacks and channels.
//
// Usage
//
// A Handlers instance is created with New and shared between one dispatching
// side and any number of listeners. Listeners may either register for every
// event with HandleCallback or HandleChannel, or filter by concrete type with
// Add and Expect.
package handler

import (
	"context"
	"sync"

	"go.uber.org/atomic"
)

// Dispatcher is an interface for dispatching events.
type Dispatcher[T any] interface {
	// Dispatch dispatches all handlers with the given event. The method blocks
	// until all synchronous handlers are done.
	Dispatch(ev T)
}

// Handler is an interface for adding callbacks and channels.
type Handler[T any] interface {
	// HandleCallback adds a callback function that is called on every
	// dispatched event in its own goroutine. It returns a function that would
	// remove this handler when called.
	HandleCallback(fn func(T)) (rm func())
	// HandleSynchronousCallback is like HandleCallback, but it's called
	// synchronously. Use this only for non-blocking operations such as
	// dispatching to other handlers.
	HandleSynchronousCallback(fn func(T)) (rm func())
	// HandleChannel adds the given channel to receive dispatched events. Each
	// send happens in its own goroutine, so Dispatch never blocks on it.
	//
	// The caller must never close the channel. Calling rm guarantees that all
	// pending sends are cancelled.
	HandleChannel(ch chan<- T) (rm func())
}

// Add adds a callback that is only called for events of type EventT. The
// callback is dispatched asynchronously.
func Add[HandlerT, EventT any](h Handler[HandlerT], fn func(EventT)) (rm func()) {
	return h.HandleSynchronousCallback(func(ev HandlerT) {
		if e, ok := any(ev).(EventT); ok {
			go fn(e)
		}
	})
}

// AddSynchronous is like Add, but the callback is dispatched synchronously.
func AddSynchronous[HandlerT, EventT any](h Handler[HandlerT], fn func(EventT)) (rm func()) {
	return h.HandleSynchronousCallback(func(ev HandlerT) {
		if e, ok := any(ev).(EventT); ok {
			fn(e)
		}
	})
}

// Expect registers a listener right away and returns a function that blocks
// until an event of type EventT satisfies fn. The listener is removed once the
// returned function returns.
func Expect[HandlerT, EventT any](h Handler[HandlerT], fn func(EventT) bool) func(context.Context) (EventT, error) {
	out := make(chan HandlerT)
	rm := h.HandleChannel(out)

	return func(ctx context.Context) (EventT, error) {
		defer rm()

		for {
			select {
			case <-ctx.Done():
				var z EventT
				return z, ctx.Err()
			case ev := <-out:
				v, ok := any(ev).(EventT)
				if ok && fn(v) {
					return v, nil
				}
			}
		}
	}
}

// Handlers is a container of callbacks and channels. A zero-value instance is
// a valid instance.
type Handlers[T any] struct {
	mutex   sync.RWMutex
	callers map[uint64]caller[T]
	serial  uint64
}

var (
	_ Dispatcher[struct{}] = (*Handlers[struct{}])(nil)
	_ Handler[struct{}]    = (*Handlers[struct{}])(nil)
)

// New constructs a new Handlers.
func New[T any]() *Handlers[T] {
	return &Handlers[T]{}
}

// Dispatch implements Dispatcher.
func (h *Handlers[T]) Dispatch(ev T) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for _, c := range h.callers {
		c.call(ev)
	}
}

// Len returns the number of registered handlers.
func (h *Handlers[T]) Len() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return len(h.callers)
}

// HandleCallback implements Handler.
func (h *Handlers[T]) HandleCallback(fn func(T)) (rm func()) {
	return h.add(callback[T]{fn: fn, async: true})
}

// HandleSynchronousCallback implements Handler.
func (h *Handlers[T]) HandleSynchronousCallback(fn func(T)) (rm func()) {
	return h.add(callback[T]{fn: fn})
}

// HandleChannel implements Handler.
func (h *Handlers[T]) HandleChannel(ch chan<- T) (rm func()) {
	return h.add(channel[T]{ch: ch, done: make(chan struct{})})
}

func (h *Handlers[T]) add(c caller[T]) (rm func()) {
	h.mutex.Lock()
	if h.callers == nil {
		h.callers = make(map[uint64]caller[T], 4)
	}
	h.serial++
	id := h.serial
	h.callers[id] = c
	h.mutex.Unlock()

	var gone atomic.Bool

	return func() {
		if !gone.CAS(false, true) {
			return
		}

		h.mutex.Lock()
		delete(h.callers, id)
		h.mutex.Unlock()

		c.close()
	}
}

type caller[T any] interface {
	call(T)
	close()
}

type callback[T any] struct {
	fn    func(T)
	async bool
}

func (c callback[T]) call(v T) {
	if c.async {
		go c.fn(v)
	} else {
		c.fn(v)
	}
}

func (c callback[T]) close() {}

type channel[T any] struct {
	ch   chan<- T
	done chan struct{}
}

func (c channel[T]) call(v T) {
	select {
	case <-c.done:
		return
	default:
	}

	go func() {
		select {
		case c.ch <- v:
		case <-c.done:
		}
	}()
}

func (c channel[T]) close() {
	close(c.done)
}
