package publish

// RingChannel is a bounded channel-like buffer with overwrite-oldest
// semantics. Producers never block: if the buffer is full, the oldest
// element is discarded. Readers range over C() like a normal channel.
//
// The publisher worker consumes from one of these so that access-point
// goroutines are never stalled by a slow broker; under pressure the
// oldest pending message is the one that drops.
type RingChannel[T any] struct {
	ch chan T
}

// NewRingChannel creates a RingChannel with the given capacity.
func NewRingChannel[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts an item, discarding the oldest if the buffer is full.
func (rc *RingChannel[T]) Send(v T) {
	select {
	case rc.ch <- v:
	default:
		select {
		case <-rc.ch: // drop oldest
		default:
		}
		select {
		case rc.ch <- v:
		default:
		}
	}
}

// Close closes the channel. Senders must have stopped.
func (rc *RingChannel[T]) Close() {
	close(rc.ch)
}
