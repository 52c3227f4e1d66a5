// Package component keeps the catalog of component types: what each
// type extends, which capability mixins it carries, which client
// resources it needs and how those resources are grouped into chunks.
package component

import (
	"gopkg.in/yaml.v3"

	"github.com/treesync/treesync/internal/core/dependency"
)

// TypeKind separates ordinary components, UI roots and mixins. UI-kind
// types end chunk ancestor walks, mixins contribute dependencies but
// never chunks.
type TypeKind uint8

const (
	KindComponent TypeKind = iota
	KindUI
	KindMixin
)

func (k TypeKind) String() string {
	switch k {
	case KindComponent:
		return "component"
	case KindUI:
		return "ui"
	case KindMixin:
		return "mixin"
	default:
		return "unknown"
	}
}

func (k TypeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *TypeKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "component", "":
		*k = KindComponent
	case "ui":
		*k = KindUI
	case "mixin":
		*k = KindMixin
	default:
		return ErrUnknownKind
	}
	return nil
}

// UnmarshalYAML lets catalog files spell kinds out; yaml.v3 does not
// consult encoding.TextUnmarshaler.
func (k *TypeKind) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return k.UnmarshalText([]byte(s))
}

// Type describes one component type. Types form a single-inheritance
// chain through Extends; capabilities shared across chains are modeled
// as mixins, which may themselves build on other mixins.
type Type struct {
	Name string `json:"name" yaml:"name"`
	// Tag is the element tag nodes hosting this type are created with.
	Tag  string   `json:"tag,omitempty" yaml:"tag,omitempty"`
	Kind TypeKind `json:"kind,omitempty" yaml:"kind,omitempty"`
	// Extends names the parent type. Empty for base types. Mixins leave
	// this empty and list their parents in Mixins instead.
	Extends string `json:"extends,omitempty" yaml:"extends,omitempty"`
	// Mixins lists capability mixins in declaration order. Order is
	// visible on the wire: a mixin's dependencies ship before the
	// declaring type's own.
	Mixins []string `json:"mixins,omitempty" yaml:"mixins,omitempty"`
	// Route marks the type as navigation target. A routed ancestor ends
	// the production chunk walk below it.
	Route        string                  `json:"route,omitempty" yaml:"route,omitempty"`
	Dependencies []dependency.Dependency `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}
