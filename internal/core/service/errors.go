package service

import "errors"

var (
	ErrUnknownSession = errors.New("service: unknown session")
	// ErrNotInstantiable is returned when a UI is requested for a mixin
	// type; mixins only contribute behavior to real components.
	ErrNotInstantiable = errors.New("service: component type is not instantiable")
	ErrUnknownResource = errors.New("service: unknown static resource")
)
