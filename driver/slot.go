package driver

import (
	"context"
	"time"

	"github.com/vnet-iot/g350modem/cmdtable"
)

// Slot is the driver's single exclusive reservation to issue one command
// and receive its response. Exactly one Slot exists at a time; the I/O loop
// reads the arbiter's current slot (nullable) to decide whether an incoming
// line targets it.
//
// The owner must follow acquire -> send command -> wait -> parse -> release
// in that order; no other sequence is valid. Only the I/O loop goroutine
// completes a slot (Driver.completeSlot, checkSlotTimeout and
// failCurrentSlot), and only the current one (i.e. between acquire and
// release).
type Slot struct {
	cmdID    string // the body used to match response lines, e.g. "+USOCR"
	shape    cmdtable.Shape
	expected int // expected count of "<body>: args" lines; -1 = unbounded (e.g. SMS listing)

	promptCapable bool          // true if this command may trigger a '>' prompt
	promptReady   chan struct{} // closed by the I/O loop exactly once, when '>' is observed

	start   time.Time
	timeout time.Duration

	echoSeen        bool
	linesSeen       int
	awaitingRawBody bool // the previous line was a Raw-shape header; the next unrecognized line is its payload

	info []string // accumulated "<body>: args" / raw payload lines

	done      chan struct{}
	err       error
	cmErr     string
	completed bool
}

func newSlot(cmdID string, shape cmdtable.Shape, expected int, timeout time.Duration, promptCapable bool) *Slot {
	return &Slot{
		cmdID:         cmdID,
		shape:         shape,
		expected:      expected,
		timeout:       timeout,
		promptCapable: promptCapable,
		promptReady:   make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Info returns the accumulated response lines. Valid only after Wait
// returns; the caller owns the returned slice.
func (s *Slot) Info() []string { return s.info }

// Err returns the command's completion error, or nil on success. Valid only
// after Wait returns.
func (s *Slot) Err() error { return s.err }

// CMError returns the verbatim +CME/+CMS ERROR text, if the command failed
// with one.
func (s *Slot) CMError() string { return s.cmErr }

// Wait blocks until the I/O loop signals completion (OK, an error, or a
// timeout) or ctx is done.
func (s *Slot) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PromptReady returns the channel the I/O loop closes once it has observed
// the '>' prompt for this slot. Only meaningful if promptCapable is true.
func (s *Slot) PromptReady() <-chan struct{} {
	return s.promptReady
}

// arbiter is the single, process-wide exclusion resource granting one
// caller at a time the right to send a command and receive its response.
// Acquisition is modelled as taking the single token out of a
// capacity-1 channel; release puts it back, waking the next waiter in
// FIFO-ish (Go channel) order.
type arbiter struct {
	tokens chan struct{}
	curCh  chan *Slot // always holds exactly one value: the current slot, or nil
}

func newArbiter() *arbiter {
	a := &arbiter{
		tokens: make(chan struct{}, 1),
		curCh:  make(chan *Slot, 1),
	}
	a.tokens <- struct{}{}
	a.curCh <- nil
	return a
}

// acquire blocks until the slot is free, then installs s as the current
// slot.
func (a *arbiter) acquire(ctx context.Context, s *Slot) error {
	select {
	case <-a.tokens:
	case <-ctx.Done():
		return ctx.Err()
	}
	<-a.curCh
	s.start = time.Now()
	a.curCh <- s
	return nil
}

// release clears the current slot and returns the token to the next
// waiter.
func (a *arbiter) release() {
	<-a.curCh
	a.curCh <- nil
	a.tokens <- struct{}{}
}

// current returns the slot presently owning the arbiter, or nil.
func (a *arbiter) current() *Slot {
	s := <-a.curCh
	a.curCh <- s
	return s
}
