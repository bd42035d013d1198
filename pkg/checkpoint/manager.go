package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/sluice/pkg/persist"
	"github.com/Sumatoshi-tech/sluice/pkg/query"
)

// Sentinel restore errors. All of them are fatal at startup.
var (
	ErrVersionMismatch  = errors.New("checkpoint version mismatch")
	ErrVariantMismatch  = errors.New("checkpoint schema variant mismatch")
	ErrQuerySetMismatch = errors.New("checkpoint query set mismatch")
)

// Default retention values.
const (
	DefaultMaxAge  = 7 * 24 * time.Hour
	DefaultMaxSize = int64(1 << 30) // 1GB.
)

// Directory permissions for checkpoints.
const dirPerm = 0o750

// currentPointer is the file naming the live checkpoint directory.
// Swapping it via rename is the commit point of a persisted tick.
const currentPointer = "CURRENT"

// checkpointPrefix prefixes per-commit checkpoint directory names.
const checkpointPrefix = "cp_"

// manifestBasename names the manifest file inside a checkpoint directory.
const manifestBasename = "manifest"

// stateBasenamePrefix prefixes per-query state files.
const stateBasenamePrefix = "state_"

// DefaultDir returns the default checkpoint directory (~/.sluice/checkpoints).
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	return filepath.Join(home, ".sluice", "checkpoints")
}

// WatchHash computes a short hash of the watched directory path for use as
// the checkpoint subdirectory name.
func WatchHash(watchDir string) string {
	h := sha256.Sum256([]byte(watchDir))

	return hex.EncodeToString(h[:8]) // First 8 bytes = 16 hex chars.
}

// Manager persists and restores checkpoints for one watched directory.
type Manager struct {
	BaseDir   string
	WatchHash string
	MaxAge    time.Duration
	MaxSize   int64

	codec persist.Codec
}

// NewManager creates a checkpoint manager. State snapshots are written with
// the given codec; the manifest is always plain JSON so restores can read
// it before knowing anything else.
func NewManager(baseDir, watchDir string, codec persist.Codec) *Manager {
	return &Manager{
		BaseDir:   baseDir,
		WatchHash: WatchHash(watchDir),
		MaxAge:    DefaultMaxAge,
		MaxSize:   DefaultMaxSize,
		codec:     codec,
	}
}

// Root returns the checkpoint directory for this watched directory.
func (m *Manager) Root() string {
	return filepath.Join(m.BaseDir, m.WatchHash)
}

// currentPath returns the path of the CURRENT pointer file.
func (m *Manager) currentPath() string {
	return filepath.Join(m.Root(), currentPointer)
}

// Exists returns true if a checkpoint pointer exists.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.currentPath())

	return err == nil
}

// Clear removes all checkpoint state for the watched directory.
func (m *Manager) Clear() error {
	root := m.Root()

	_, statErr := os.Stat(root)
	if os.IsNotExist(statErr) {
		return nil
	}

	err := os.RemoveAll(root)
	if err != nil {
		return fmt.Errorf("remove checkpoint dir: %w", err)
	}

	return nil
}

// Save writes the snapshot as a new checkpoint directory, then atomically
// swaps the CURRENT pointer to it. A crash at any point leaves either the
// previous checkpoint or the new one fully intact, never a mixture.
func (m *Manager) Save(snap *Snapshot) error {
	root := m.Root()

	err := os.MkdirAll(root, dirPerm)
	if err != nil {
		return fmt.Errorf("create checkpoint root: %w", err)
	}

	name := fmt.Sprintf("%s%010d_%d", checkpointPrefix, snap.BatchID, time.Now().UnixNano())
	cpDir := filepath.Join(root, name)

	mkdirErr := os.MkdirAll(cpDir, dirPerm)
	if mkdirErr != nil {
		return fmt.Errorf("create checkpoint dir: %w", mkdirErr)
	}

	for id, part := range snap.States {
		p := persist.NewPersister[query.GroupState](stateBasenamePrefix+id, m.codec)

		saveErr := p.Save(cpDir, &part)
		if saveErr != nil {
			os.RemoveAll(cpDir)

			return fmt.Errorf("save state for query %s: %w", id, saveErr)
		}
	}

	manifest := newManifest(snap, m.codec.Extension())

	manifestErr := persist.SaveState(cpDir, manifestBasename, persist.NewJSONCodec(), &manifest)
	if manifestErr != nil {
		os.RemoveAll(cpDir)

		return fmt.Errorf("save manifest: %w", manifestErr)
	}

	swapErr := m.swapCurrent(name)
	if swapErr != nil {
		os.RemoveAll(cpDir)

		return swapErr
	}

	m.prune(name)

	return nil
}

// swapCurrent atomically repoints CURRENT at the named checkpoint dir.
func (m *Manager) swapCurrent(name string) error {
	tmp, err := os.CreateTemp(m.Root(), currentPointer+".tmp-*")
	if err != nil {
		return fmt.Errorf("create pointer temp: %w", err)
	}

	_, writeErr := tmp.WriteString(name + "\n")
	if writeErr != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return fmt.Errorf("write pointer: %w", writeErr)
	}

	syncErr := tmp.Sync()
	if syncErr != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return fmt.Errorf("sync pointer: %w", syncErr)
	}

	closeErr := tmp.Close()
	if closeErr != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("close pointer: %w", closeErr)
	}

	renameErr := os.Rename(tmp.Name(), m.currentPath())
	if renameErr != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("swap pointer: %w", renameErr)
	}

	return nil
}

// Restore loads the checkpoint named by CURRENT. A missing pointer means a
// fresh start (nil snapshot, nil error). Anything inconsistent beyond that
// point reports ErrCorrupt or one of the mismatch sentinels; the caller
// must refuse to start rather than guess.
func (m *Manager) Restore(variant string, queryIDs []string) (*Snapshot, error) {
	raw, err := os.ReadFile(m.currentPath())
	if os.IsNotExist(err) {
		return nil, nil //nolint:nilnil // no checkpoint means empty initial state.
	}

	if err != nil {
		return nil, fmt.Errorf("read checkpoint pointer: %w", err)
	}

	name := strings.TrimSpace(string(raw))
	if name == "" || strings.Contains(name, string(os.PathSeparator)) {
		return nil, fmt.Errorf("%w: bad pointer %q", ErrCorrupt, name)
	}

	cpDir := filepath.Join(m.Root(), name)

	manifest, manifestErr := m.loadManifest(cpDir)
	if manifestErr != nil {
		return nil, manifestErr
	}

	validateErr := validateManifest(manifest, variant, queryIDs)
	if validateErr != nil {
		return nil, validateErr
	}

	codec, codecErr := codecByExtension(manifest.StateCodec)
	if codecErr != nil {
		return nil, codecErr
	}

	states := make(map[string]query.GroupState, len(manifest.Queries))

	for _, id := range manifest.Queries {
		p := persist.NewPersister[query.GroupState](stateBasenamePrefix+id, codec)

		part, loadErr := p.Load(cpDir)
		if loadErr != nil {
			return nil, fmt.Errorf("%w: state for query %s: %w", ErrCorrupt, id, loadErr)
		}

		states[id] = *part
	}

	return &Snapshot{
		BatchID: manifest.BatchID,
		Variant: manifest.Variant,
		Ledger:  manifest.Ledger,
		States:  states,
	}, nil
}

// LoadManifest reads and validates the live manifest without loading state.
func (m *Manager) LoadManifest() (*Manifest, error) {
	raw, err := os.ReadFile(m.currentPath())
	if err != nil {
		return nil, fmt.Errorf("read checkpoint pointer: %w", err)
	}

	return m.loadManifest(filepath.Join(m.Root(), strings.TrimSpace(string(raw))))
}

// loadManifest reads and schema-validates a checkpoint dir's manifest.
func (m *Manager) loadManifest(cpDir string) (*Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(cpDir, manifestBasename+persist.NewJSONCodec().Extension()))
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest: %w", ErrCorrupt, err)
	}

	return parseManifest(raw)
}

// validateManifest checks the manifest against the running configuration.
func validateManifest(manifest *Manifest, variant string, queryIDs []string) error {
	if manifest.Version != ManifestVersion {
		return fmt.Errorf("%w: checkpoint has v%d, engine speaks v%d",
			ErrVersionMismatch, manifest.Version, ManifestVersion)
	}

	if manifest.Variant != variant {
		return fmt.Errorf("%w: checkpoint has %q, configured %q",
			ErrVariantMismatch, manifest.Variant, variant)
	}

	want := append([]string(nil), queryIDs...)
	sort.Strings(want)

	if !stringSlicesEqual(manifest.Queries, want) {
		return fmt.Errorf("%w: checkpoint has %v, configured %v",
			ErrQuerySetMismatch, manifest.Queries, want)
	}

	return nil
}

// codecByExtension resolves the state codec recorded in the manifest.
func codecByExtension(ext string) (persist.Codec, error) {
	switch ext {
	case ".json":
		return persist.NewJSONCodec(), nil
	case ".gob":
		return persist.NewGobCodec(), nil
	case ".json.lz4":
		return persist.NewLZ4Codec(persist.NewJSONCodec()), nil
	case ".gob.lz4":
		return persist.NewLZ4Codec(persist.NewGobCodec()), nil
	default:
		return nil, fmt.Errorf("%w: unknown state codec %q", ErrCorrupt, ext)
	}
}

// prune removes superseded checkpoint directories past the retention
// limits. The live checkpoint is never touched. Prune failures are
// best-effort by design of the caller: the commit already succeeded.
func (m *Manager) prune(currentName string) {
	root := m.Root()

	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}

	type candidate struct {
		name    string
		modTime time.Time
		size    int64
	}

	candidates := make([]candidate, 0, len(entries))

	var totalSize int64

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), checkpointPrefix) {
			continue
		}

		if entry.Name() == currentName {
			continue
		}

		info, infoErr := entry.Info()
		if infoErr != nil {
			continue
		}

		size := dirSize(filepath.Join(root, entry.Name()))
		totalSize += size

		candidates = append(candidates, candidate{
			name:    entry.Name(),
			modTime: info.ModTime(),
			size:    size,
		})
	}

	// Oldest first.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].modTime.Before(candidates[j].modTime)
	})

	cutoff := time.Now().Add(-m.MaxAge)

	for _, c := range candidates {
		stale := m.MaxAge > 0 && c.modTime.Before(cutoff)
		oversize := m.MaxSize > 0 && totalSize > m.MaxSize

		if !stale && !oversize {
			continue
		}

		removeErr := os.RemoveAll(filepath.Join(root, c.name))
		if removeErr == nil {
			totalSize -= c.size
		}
	}
}

// dirSize sums the file sizes under a directory.
func dirSize(dir string) int64 {
	var total int64

	_ = filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}

		total += info.Size()

		return nil
	})

	return total
}

// stringSlicesEqual compares two string slices for equality.
func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
