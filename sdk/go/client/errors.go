package client

import "errors"

// Client-specific errors
var (
	ErrClientClosed     = errors.New("client is closed")
	ErrNotConnected     = errors.New("client is not connected")
	ErrAlreadyConnected = errors.New("client is already connected")
	ErrSessionExpired   = errors.New("session is no longer available")
	ErrReconnectFailed  = errors.New("reconnection failed")
	ErrInvalidConfig    = errors.New("invalid client configuration")
)
