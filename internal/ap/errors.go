package ap

import "fmt"

// One error kind per operation family. Each carries a human-readable
// diagnostic; callers map them onto their own problem-detail codes.

// ConnectionError reports a failed or invalid connect.
type ConnectionError struct{ Reason string }

func (e *ConnectionError) Error() string { return "connection error: " + e.Reason }

// NewConnectionError formats a ConnectionError.
func NewConnectionError(format string, args ...interface{}) *ConnectionError {
	return &ConnectionError{Reason: fmt.Sprintf(format, args...)}
}

// DiscoveryError reports a failed service discovery.
type DiscoveryError struct{ Reason string }

func (e *DiscoveryError) Error() string { return "discovery error: " + e.Reason }

func NewDiscoveryError(format string, args ...interface{}) *DiscoveryError {
	return &DiscoveryError{Reason: fmt.Sprintf(format, args...)}
}

// ReadError reports a failed characteristic read.
type ReadError struct{ Reason string }

func (e *ReadError) Error() string { return "read error: " + e.Reason }

func NewReadError(format string, args ...interface{}) *ReadError {
	return &ReadError{Reason: fmt.Sprintf(format, args...)}
}

// WriteError reports a failed characteristic write.
type WriteError struct{ Reason string }

func (e *WriteError) Error() string { return "write error: " + e.Reason }

func NewWriteError(format string, args ...interface{}) *WriteError {
	return &WriteError{Reason: fmt.Sprintf(format, args...)}
}

// SubscribeError reports a failed subscribe.
type SubscribeError struct{ Reason string }

func (e *SubscribeError) Error() string { return "subscribe error: " + e.Reason }

func NewSubscribeError(format string, args ...interface{}) *SubscribeError {
	return &SubscribeError{Reason: fmt.Sprintf(format, args...)}
}

// UnsubscribeError reports a failed unsubscribe.
type UnsubscribeError struct{ Reason string }

func (e *UnsubscribeError) Error() string { return "unsubscribe error: " + e.Reason }

func NewUnsubscribeError(format string, args ...interface{}) *UnsubscribeError {
	return &UnsubscribeError{Reason: fmt.Sprintf(format, args...)}
}

// DisconnectError reports a failed disconnect.
type DisconnectError struct{ Reason string }

func (e *DisconnectError) Error() string { return "disconnect error: " + e.Reason }

func NewDisconnectError(format string, args ...interface{}) *DisconnectError {
	return &DisconnectError{Reason: fmt.Sprintf(format, args...)}
}
