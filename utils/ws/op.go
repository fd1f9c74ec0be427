package ws

import (
	"context"
	"fmt"

	"github.com/diamondburned/voicelink/utils/json"
)

// OpCode is the type for websocket Op codes. Op codes less than 0 are
// internal Op codes that never go over the wire.
type OpCode int

// Event describes the data of an Op. Every Event knows its own Op code, so the
// codec never has to be told which code to encode it with.
type Event interface {
	Op() OpCode
}

// Op is a gateway operation.
type Op struct {
	Code OpCode
	Data Event
}

// CloseEvent is the last Op sent by a Conn when the websocket is closed for
// any reason other than the caller closing it.
type CloseEvent struct {
	// Err is the underlying error.
	Err error
	// Code is the websocket close code, if any. It is -1 otherwise.
	Code int
}

// Unwrap returns e.Err.
func (e *CloseEvent) Unwrap() error { return e.Err }

// Error formats the CloseEvent. A CloseEvent is also an error.
func (e *CloseEvent) Error() string {
	if e.Code == -1 {
		return fmt.Sprintf("websocket closed, reason: %s", e.Err)
	}
	return fmt.Sprintf("websocket closed with code %d, reason: %s", e.Code, e.Err)
}

// Op implements Event. It returns -1.
func (e *CloseEvent) Op() OpCode { return -1 }

// BackgroundErrorEvent describes an error that the event loop stumbled upon
// while it is still running, such as a frame that fails to decode. It is never
// fatal.
type BackgroundErrorEvent struct {
	Err error
}

// Unwrap returns err.Err.
func (err *BackgroundErrorEvent) Unwrap() error { return err.Err }

// Error formats the BackgroundErrorEvent.
func (err *BackgroundErrorEvent) Error() string {
	return "background gateway error: " + err.Err.Error()
}

// Op implements Event. It returns -1.
func (err *BackgroundErrorEvent) Op() OpCode { return -1 }

// UnknownEvent is the data of an Op whose code is not in the OpUnmarshalers
// table. The raw payload is kept as-is.
type UnknownEvent struct {
	Code OpCode
	Data json.Raw
}

// Op implements Event. It returns the original Op code.
func (e *UnknownEvent) Op() OpCode { return e.Code }

// OpFunc is a constructor function for an Event.
type OpFunc func() Event

// OpUnmarshalers is a closed table of Event constructors keyed by Op code.
type OpUnmarshalers struct {
	r map[OpCode]OpFunc
}

// NewOpUnmarshalers creates a new OpUnmarshalers instance from the given
// constructor functions. Each function is called once to learn its Op code.
func NewOpUnmarshalers(funcs ...OpFunc) OpUnmarshalers {
	m := OpUnmarshalers{r: make(map[OpCode]OpFunc, len(funcs))}
	for _, fn := range funcs {
		m.r[fn().Op()] = fn
	}
	return m
}

// Lookup returns the constructor for the given code, or nil if there is none.
func (m OpUnmarshalers) Lookup(op OpCode) OpFunc {
	return m.r[op]
}

// Len returns the number of registered Op codes.
func (m OpUnmarshalers) Len() int {
	return len(m.r)
}

// ReadOp reads a single Op. It returns an error if the channel is closed.
func ReadOp(ctx context.Context, ch <-chan Op) (Op, error) {
	select {
	case <-ctx.Done():
		return Op{}, ctx.Err()
	case op, ok := <-ch:
		if !ok {
			return Op{}, ErrWebsocketClosed
		}
		return op, nil
	}
}
