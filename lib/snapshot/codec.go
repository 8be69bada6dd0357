package snapshot

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fiffu/registrywatch/lib/models"
)

// Marshal encodes a snapshot for storage outside the database.
func Marshal(snap *models.Snapshot) ([]byte, error) {
	return json.Marshal(snap)
}

// Unmarshal decodes a snapshot and checks every entry against its stored hash.
func Unmarshal(data []byte) (*models.Snapshot, error) {
	snap := &models.Snapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Entries == nil {
		snap.Entries = models.Entries{}
	}
	for name, e := range snap.Entries {
		if e.Server.Name != name {
			return nil, fmt.Errorf("decode snapshot: entry %q holds server %q", name, e.Server.Name)
		}
		if got := models.DigestServer(&e.Server); got != e.Hash {
			return nil, fmt.Errorf("decode snapshot: entry %q hash mismatch", name)
		}
	}
	snap.ServerCount = len(snap.Entries)
	return snap, nil
}

func Save(path string, snap *models.Snapshot) error {
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func Load(path string) (*models.Snapshot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Unmarshal(b)
}
