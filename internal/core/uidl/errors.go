package uidl

import "errors"

var (
	// ErrTreeUnavailable aborts a flush before anything is consumed, so
	// no change or dependency is lost to a half-run cycle.
	ErrTreeUnavailable = errors.New("uidl: ui has no state tree")
	// ErrNoResources is reported when an inline dependency needs url
	// resolution but no resource provider is configured.
	ErrNoResources = errors.New("uidl: no resource provider configured")
	// ErrNoSession and ErrNoUI reject sync requests that don't name
	// their target.
	ErrNoSession = errors.New("uidl: request names no session")
	ErrNoUI      = errors.New("uidl: request names no ui")
)
