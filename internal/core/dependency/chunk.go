package dependency

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// ChunkID derives the stable chunk identifier for a component type
// name. Build tooling uses the same hash, so the ids computed here and
// the chunk files on disk agree without any shared registry.
func ChunkID(typeName string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(typeName))
}

// ChunkLoader builds the lazy dependency that makes the client fetch a
// chunk on demand. The expression format is part of the client
// contract; the runtime evaluates the url field as a thunk when it
// carries a dynamic import.
func ChunkLoader(chunkID string) Dependency {
	return Dependency{
		Kind: KindDynamicImport,
		Mode: LoadLazy,
		URL:  fmt.Sprintf("return window.Vaadin.Flow.loadOnDemand('%s');", chunkID),
	}
}
