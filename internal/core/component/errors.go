package component

import "errors"

var (
	ErrEmptyName    = errors.New("component: type name must not be empty")
	ErrTypeExists   = errors.New("component: type already registered")
	ErrUnknownType  = errors.New("component: unknown type")
	ErrUnknownKind  = errors.New("component: unknown type kind")
	ErrMixinParent  = errors.New("component: extends target must not be a mixin")
	ErrNotMixin     = errors.New("component: mixin list entry is not a mixin")
	ErrMixinRoute   = errors.New("component: mixins cannot declare routes")
	ErrMixinExtends = errors.New("component: mixins declare parents via the mixin list")
)
