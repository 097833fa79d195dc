package vectordb

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed caller input such as misaligned batches
	// or a vector whose size does not match the collection.
	ErrValidation = errors.New("vectordb: validation failed")

	// ErrCollectionNotFound is returned by GetCollectionInfo for a missing
	// collection.
	ErrCollectionNotFound = errors.New("vectordb: collection not found")

	// ErrUnknownBackend is returned by New for an unsupported backend name.
	ErrUnknownBackend = errors.New("vectordb: unknown backend")
)

// validateBatch checks that the batch's parallel slices line up.
func validateBatch(b Batch) error {
	n := len(b.Vectors)
	if b.IDs != nil && len(b.IDs) != n {
		return fmt.Errorf("%w: %d vectors but %d record ids", ErrValidation, n, len(b.IDs))
	}
	if len(b.Texts) != n {
		return fmt.Errorf("%w: %d vectors but %d texts", ErrValidation, n, len(b.Texts))
	}
	if b.Metadata != nil && len(b.Metadata) != n {
		return fmt.Errorf("%w: %d vectors but %d metadata entries", ErrValidation, n, len(b.Metadata))
	}
	return nil
}

// validateSize checks every vector against the collection's dimensionality.
func validateSize(b Batch, size int) error {
	for i, v := range b.Vectors {
		if len(v) != size {
			return fmt.Errorf("%w: vector %d has size %d, collection expects %d", ErrValidation, i, len(v), size)
		}
	}
	return nil
}

// subBatches calls fn with [start, end) bounds of consecutive sub-batches of
// at most size records, stopping at the first error.
func subBatches(n, size int, fn func(start, end int) error) error {
	if size <= 0 {
		size = n
	}
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}
