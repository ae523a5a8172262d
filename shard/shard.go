// Package shard splits a test-file list between independent CI workers.
package shard

import (
	"errors"
	"fmt"
	"slices"

	"github.com/ethereum-optimism/infra/op-isorun/types"
)

// ErrInvalidShardSpec is returned for a Spec with Count < 1 or an Index outside [0, Count).
var ErrInvalidShardSpec = errors.New("invalid shard spec")

// Spec identifies one worker (Index) out of Count parallel workers.
type Spec struct {
	Index int
	Count int
}

// Default is the spec used when no sharding is configured.
var Default = Spec{Index: 0, Count: 1}

func (s Spec) String() string {
	return fmt.Sprintf("%d/%d", s.Index, s.Count)
}

// Validate checks the Spec invariants.
func (s Spec) Validate() error {
	if s.Count < 1 {
		return fmt.Errorf("%w: job count must be at least 1, got %d", ErrInvalidShardSpec, s.Count)
	}
	if s.Index < 0 || s.Index >= s.Count {
		return fmt.Errorf("%w: job index %d out of range [0, %d)", ErrInvalidShardSpec, s.Index, s.Count)
	}
	return nil
}

// Select returns the files assigned to spec.
//
// Files are sorted by path first so independently started workers agree on the
// assignment. The sorted list is cut into chunks of spec.Count and the worker
// takes the element at spec.Index from every chunk, which interleaves
// neighbouring paths across workers instead of handing one worker a
// contiguous block. The input slice is not modified.
func Select(files []types.TestFile, spec Spec) ([]types.TestFile, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	sorted := slices.Clone(files)
	slices.Sort(sorted)
	if spec.Count == 1 {
		return sorted, nil
	}

	selected := make([]types.TestFile, 0, len(sorted)/spec.Count+1)
	for chunk := range slices.Chunk(sorted, spec.Count) {
		if spec.Index < len(chunk) {
			selected = append(selected, chunk[spec.Index])
		}
	}
	return selected, nil
}
