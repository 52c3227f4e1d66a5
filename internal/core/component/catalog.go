package component

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Catalog is the file form of a component type collection. Types load
// in declaration order, so ancestors and mixins are listed before
// their dependents, the same rule Register enforces.
type Catalog struct {
	Types []Type `json:"types" yaml:"types"`
}

// LoadCatalog reads a YAML catalog and registers every type it
// declares. It returns the number of registered types; on error, the
// types before the failing entry stay registered.
func LoadCatalog(r io.Reader, reg *Registry) (int, error) {
	var cat Catalog
	if err := yaml.NewDecoder(r).Decode(&cat); err != nil {
		return 0, errors.Wrap(err, "decode component catalog")
	}
	for i, t := range cat.Types {
		if err := reg.Register(t); err != nil {
			return i, errors.Wrapf(err, "catalog entry %d", i)
		}
	}
	return len(cat.Types), nil
}

// LoadCatalogFile loads a catalog file into the registry.
func LoadCatalogFile(path string, reg *Registry) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "open catalog %s", path)
	}
	defer func() { _ = f.Close() }()
	return LoadCatalog(f, reg)
}
