// Package checkpoint durably persists and restores the engine's committed
// state: the processed-file ledger, every query's accumulator snapshot, and
// the batch id, written as one atomic unit per commit.
package checkpoint

import (
	"sort"
	"time"

	"github.com/Sumatoshi-tech/sluice/pkg/ledger"
	"github.com/Sumatoshi-tech/sluice/pkg/query"
)

// ManifestVersion is the current checkpoint manifest format version.
const ManifestVersion = 1

// Snapshot is the full durable state of one committed tick.
type Snapshot struct {
	BatchID uint64
	Variant string
	Ledger  *ledger.Ledger
	States  map[string]query.GroupState
}

// Manifest is the self-describing descriptor written alongside the state
// files. It carries enough to detect version, variant, and query-set
// mismatches on restore.
type Manifest struct {
	Version    int            `json:"version"`
	BatchID    uint64         `json:"batch_id"`
	Variant    string         `json:"variant"`
	CreatedAt  string         `json:"created_at"`
	StateCodec string         `json:"state_codec"`
	Queries    []string       `json:"queries"`
	Ledger     *ledger.Ledger `json:"ledger"`
}

// newManifest builds the manifest for a snapshot.
func newManifest(snap *Snapshot, codecExtension string) Manifest {
	queries := make([]string, 0, len(snap.States))
	for id := range snap.States {
		queries = append(queries, id)
	}

	sort.Strings(queries)

	return Manifest{
		Version:    ManifestVersion,
		BatchID:    snap.BatchID,
		Variant:    snap.Variant,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339Nano),
		StateCodec: codecExtension,
		Queries:    queries,
		Ledger:     snap.Ledger,
	}
}
