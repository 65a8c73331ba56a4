package silabs

import (
	"errors"
	"sync/atomic"
	"time"
)

var (
	errWaitTimeout = errors.New("timed out waiting for controller event")
	errAborted     = errors.New("access point stopping")
)

// eventSignal is a resettable one-slot completion signal. The dispatcher
// goroutine calls set when a terminating event arrives; the caller
// goroutine blocks in wait. A second set before the waiter consumes the
// first is coalesced.
type eventSignal struct {
	ch chan struct{}
}

func newEventSignal() eventSignal {
	return eventSignal{ch: make(chan struct{}, 1)}
}

func (s eventSignal) set() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// wait blocks until set fires or the timeout elapses. The timeout is
// mandatory: a controller that never responds must not block its caller
// forever.
func (s eventSignal) wait(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.ch:
		return nil
	case <-timer.C:
		return errWaitTimeout
	}
}

// operation is a unit of asynchronous work bound to one connection. The
// dispatcher offers every event to every pending operation; an operation
// recognizes relevance by matching the handles embedded in the event.
// Once done it is removed from the pending set.
type operation interface {
	handleEvent(evt Event)
	done() bool
	abort()
}

type baseOperation struct {
	sig     eventSignal
	isDone  atomic.Bool
	aborted atomic.Bool
}

func newBaseOperation() baseOperation {
	return baseOperation{sig: newEventSignal()}
}

func (o *baseOperation) done() bool { return o.isDone.Load() }

func (o *baseOperation) markDone() { o.isDone.Store(true) }

// abort releases a blocked caller during access point shutdown.
func (o *baseOperation) abort() {
	o.aborted.Store(true)
	o.isDone.Store(true)
	o.sig.set()
}

// await waits for the signal and folds the abort flag into the result.
func (o *baseOperation) await(timeout time.Duration) error {
	if err := o.sig.wait(timeout); err != nil {
		return err
	}
	if o.aborted.Load() {
		return errAborted
	}
	return nil
}
