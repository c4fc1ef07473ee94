package chaterrors

import "errors"

// Common errors
var (
	ErrNotConnected   = errors.New("transport not connected")
	ErrClosed         = errors.New("transport closed")
	ErrSendRejected   = errors.New("send rejected by server")
	ErrFetchFailed    = errors.New("fetch failed")
	ErrUnknownChat    = errors.New("unknown chat")
	ErrUnknownMessage = errors.New("unknown message")
	ErrUnknownEvent   = errors.New("unknown event type")
	ErrTokenExpired   = errors.New("auth token expired")
	ErrNoActiveChat   = errors.New("no active chat")
)
