// Package state holds the in-memory, per-query accumulator partitions.
// The store is owned by the engine process: query executors read the last
// committed partition during computation, and only the scheduler's commit
// step ever writes. Readers and the committer never interleave in a tick.
package state

import (
	"github.com/Sumatoshi-tech/sluice/pkg/query"
)

// Store maps query id to that query's group-key partition.
type Store struct {
	partitions map[string]query.GroupState
}

// NewStore creates an empty store with a partition per query id.
func NewStore(queryIDs []string) *Store {
	parts := make(map[string]query.GroupState, len(queryIDs))
	for _, id := range queryIDs {
		parts[id] = make(query.GroupState)
	}

	return &Store{partitions: parts}
}

// Partition returns the last committed state for a query. Callers must not
// mutate the returned map; executors clone before merging a batch.
func (s *Store) Partition(queryID string) query.GroupState {
	return s.partitions[queryID]
}

// ApplyCommitted replaces a query's partition with its committed candidate.
// Called only by the scheduler after every sink write and the checkpoint
// persist for the tick have succeeded.
func (s *Store) ApplyCommitted(queryID string, candidate query.GroupState) {
	s.partitions[queryID] = candidate
}

// Snapshot returns a deep copy of every partition for checkpointing.
func (s *Store) Snapshot() map[string]query.GroupState {
	snap := make(map[string]query.GroupState, len(s.partitions))
	for id, part := range s.partitions {
		snap[id] = part.Clone()
	}

	return snap
}

// Restore replaces all partitions from a checkpoint snapshot. Queries
// without a snapshot entry start empty.
func (s *Store) Restore(snapshot map[string]query.GroupState) {
	for id := range s.partitions {
		part, ok := snapshot[id]
		if !ok {
			s.partitions[id] = make(query.GroupState)

			continue
		}

		s.partitions[id] = part.Clone()
	}
}

// GroupCount returns the number of group keys held for a query.
func (s *Store) GroupCount(queryID string) int {
	return len(s.partitions[queryID])
}
