package syncengine

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ncsync/ncsync/internal/localstore"
	"github.com/ncsync/ncsync/internal/tree"
)

// snapshotEnvelope is the on-disk shape of cache.json: the remote activity
// cursor alongside the serialized tree, so a restart can resume without a
// full remote walk.
type snapshotEnvelope struct {
	LatestActivityID string          `json:"latest_activity_id"`
	RootEntry        json.RawMessage `json:"root_entry"`
}

// Persistence checkpoints the shadow tree and activity cursor to cache.json
// under the local store's metadata directory.
type Persistence struct {
	store  *localstore.Store
	logger *slog.Logger
}

// NewPersistence creates a Persistence writing through store.
func NewPersistence(store *localstore.Store, logger *slog.Logger) *Persistence {
	return &Persistence{store: store, logger: logger}
}

// Save atomically writes the current tree and cursor to cache.json.
func (p *Persistence) Save(t *tree.Tree, cursor string) error {
	treeJSON, err := t.Serialize()
	if err != nil {
		return fmt.Errorf("syncengine: serializing tree for checkpoint: %w", err)
	}

	env := snapshotEnvelope{LatestActivityID: cursor, RootEntry: treeJSON}

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("syncengine: marshaling snapshot envelope: %w", err)
	}

	if err := p.store.WriteAtomicBytes(p.store.SnapshotRelPath(), data); err != nil {
		return fmt.Errorf("syncengine: writing snapshot: %w", err)
	}

	p.logger.Debug("checkpoint written", slog.String("cursor", cursor), slog.Int("tree_bytes", len(treeJSON)))

	return nil
}

// Load reads cache.json, returning the tree and cursor it encoded. Returns
// (nil, "", false, nil) if no snapshot exists yet (fresh init).
func (p *Persistence) Load() (*tree.Tree, string, bool, error) {
	exists, err := p.store.Exists(p.store.SnapshotRelPath())
	if err != nil {
		return nil, "", false, fmt.Errorf("syncengine: checking snapshot existence: %w", err)
	}

	if !exists {
		return nil, "", false, nil
	}

	data, err := p.store.Read(p.store.SnapshotRelPath())
	if err != nil {
		return nil, "", false, fmt.Errorf("syncengine: reading snapshot: %w", err)
	}

	var env snapshotEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, "", false, fmt.Errorf("syncengine: parsing snapshot envelope: %w", err)
	}

	t, err := tree.Deserialize(env.RootEntry)
	if err != nil {
		return nil, "", false, fmt.Errorf("syncengine: parsing snapshot tree: %w", err)
	}

	return t, env.LatestActivityID, true, nil
}

// Delete removes cache.json, used by hard_repair to force a full re-walk on
// the next start.
func (p *Persistence) Delete() error {
	if err := p.store.Remove(p.store.SnapshotRelPath()); err != nil {
		return fmt.Errorf("syncengine: deleting snapshot: %w", err)
	}

	return nil
}
