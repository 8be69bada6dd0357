// Package snapshot builds content-addressed catalog snapshots and diffs them.
package snapshot

import (
	"cmp"
	"slices"
	"time"

	"github.com/fiffu/registrywatch/lib/models"
)

// DiffResult classifies every name that differs between two snapshots.
type DiffResult struct {
	NewServers     []models.Change `json:"new_servers"`
	UpdatedServers []models.Change `json:"updated_servers"`
	RemovedServers []models.Change `json:"removed_servers"`
	TotalChanges   int             `json:"total_changes"`
}

// Changes flattens the result into one slice: new, then updated, then removed.
func (d *DiffResult) Changes() []models.Change {
	out := make([]models.Change, 0, d.TotalChanges)
	out = append(out, d.NewServers...)
	out = append(out, d.UpdatedServers...)
	out = append(out, d.RemovedServers...)
	return out
}

// Create captures servers as a snapshot taken at now. Input order does not
// matter. If a name appears more than once, the most recently updated entry wins.
func Create(servers []models.Server, now time.Time) *models.Snapshot {
	entries := make(models.Entries, len(servers))
	for _, s := range servers {
		if prev, ok := entries[s.Name]; ok && prev.Server.UpdatedAt.After(s.UpdatedAt) {
			continue
		}
		s.Capabilities = slices.Clone(s.Capabilities)
		entries[s.Name] = models.Entry{Hash: models.DigestServer(&s), Server: s}
	}
	return &models.Snapshot{
		CreatedAt:   now.UTC(),
		ServerCount: len(entries),
		Entries:     entries,
	}
}

// Compare diffs current against previous. A nil previous classifies every
// entry of current as new.
func Compare(previous, current *models.Snapshot) *DiffResult {
	var prevEntries models.Entries
	var prevID string
	if previous != nil {
		prevEntries = previous.Entries
		prevID = previous.ID
	}

	base := models.Change{
		SnapshotID:         current.ID,
		PreviousSnapshotID: prevID,
		DetectedAt:         current.CreatedAt,
	}

	diff := &DiffResult{}
	for name, cur := range current.Entries {
		prev, existed := prevEntries[name]
		switch {
		case !existed:
			c := base
			c.ServerName = name
			c.ChangeType = models.ChangeNew
			c.NewVersion = cur.Server.Version
			c.Server = serverPtr(cur.Server)
			diff.NewServers = append(diff.NewServers, c)

		case prev.Hash != cur.Hash:
			c := base
			c.ServerName = name
			c.ChangeType = models.ChangeUpdated
			c.PreviousVersion = prev.Server.Version
			c.NewVersion = cur.Server.Version
			c.Server = serverPtr(cur.Server)
			diff.UpdatedServers = append(diff.UpdatedServers, c)
		}
	}
	for name, prev := range prevEntries {
		if _, ok := current.Entries[name]; ok {
			continue
		}
		c := base
		c.ServerName = name
		c.ChangeType = models.ChangeRemoved
		c.PreviousVersion = prev.Server.Version
		diff.RemovedServers = append(diff.RemovedServers, c)
	}

	sortChanges(diff.NewServers)
	sortChanges(diff.UpdatedServers)
	sortChanges(diff.RemovedServers)
	diff.TotalChanges = len(diff.NewServers) + len(diff.UpdatedServers) + len(diff.RemovedServers)
	return diff
}

// HasChanges reports whether Compare would find at least one change, without
// building the diff.
func HasChanges(previous, current *models.Snapshot) bool {
	if previous == nil {
		return len(current.Entries) > 0
	}
	if len(previous.Entries) != len(current.Entries) {
		return true
	}
	for name, cur := range current.Entries {
		prev, ok := previous.Entries[name]
		if !ok || prev.Hash != cur.Hash {
			return true
		}
	}
	return false
}

// Most recent first, then by name so output is deterministic.
func sortChanges(changes []models.Change) {
	slices.SortStableFunc(changes, func(a, b models.Change) int {
		if c := b.DetectedAt.Compare(a.DetectedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ServerName, b.ServerName)
	})
}

func serverPtr(s models.Server) *models.Server {
	s.Capabilities = slices.Clone(s.Capabilities)
	return &s
}
