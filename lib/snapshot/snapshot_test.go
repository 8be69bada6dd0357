package snapshot

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/fiffu/registrywatch/lib/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func server(name, version string) models.Server {
	return models.Server{Name: name, Version: version, Description: "server " + name}
}

func names(changes []models.Change) []string {
	out := make([]string, len(changes))
	for i, c := range changes {
		out[i] = c.ServerName
	}
	return out
}

func TestCreate_OrderIndependent(t *testing.T) {
	list := []models.Server{server("a", "1"), server("b", "2"), server("c", "3")}
	reversed := []models.Server{list[2], list[1], list[0]}

	s1 := Create(list, t0)
	s2 := Create(reversed, t0.Add(time.Hour))

	assert.Equal(t, 3, s1.ServerCount)
	for name, e := range s1.Entries {
		assert.Equal(t, e.Hash, s2.Entries[name].Hash, name)
	}
	assert.False(t, HasChanges(s1, s2))
}

func TestCreate_CapabilityOrderDoesNotAffectHash(t *testing.T) {
	a := server("a", "1")
	a.Capabilities = []string{"tools", "prompts"}
	b := server("a", "1")
	b.Capabilities = []string{"prompts", "tools"}

	assert.Equal(t, Create([]models.Server{a}, t0).Entries["a"].Hash, Create([]models.Server{b}, t0).Entries["a"].Hash)
}

func TestCreate_DuplicateNameKeepsLatest(t *testing.T) {
	older := server("a", "1")
	older.UpdatedAt = t0
	newer := server("a", "2")
	newer.UpdatedAt = t0.Add(time.Minute)

	snap := Create([]models.Server{newer, older}, t0)
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, "2", snap.Entries["a"].Server.Version)
}

func TestDigest_ContentFields(t *testing.T) {
	base := server("a", "1")
	for name, mutate := range map[string]func(*models.Server){
		"version":      func(s *models.Server) { s.Version = "2" },
		"description":  func(s *models.Server) { s.Description = "changed" },
		"capabilities": func(s *models.Server) { s.Capabilities = []string{"tools"} },
	} {
		t.Run(name, func(t *testing.T) {
			s := base
			mutate(&s)
			assert.NotEqual(t, models.DigestServer(&base), models.DigestServer(&s))
		})
	}

	touched := base
	touched.UpdatedAt = t0
	assert.Equal(t, models.DigestServer(&base), models.DigestServer(&touched), "timestamps are not content")
}

func TestCompare_Bootstrap(t *testing.T) {
	cur := Create([]models.Server{server("b", "1"), server("a", "1")}, t0)
	cur.ID = "snap-1"

	diff := Compare(nil, cur)

	assert.Equal(t, 2, diff.TotalChanges)
	assert.Equal(t, []string{"a", "b"}, names(diff.NewServers))
	assert.Empty(t, diff.UpdatedServers)
	assert.Empty(t, diff.RemovedServers)
	for _, c := range diff.NewServers {
		assert.Equal(t, "snap-1", c.SnapshotID)
		assert.Empty(t, c.PreviousSnapshotID)
		require.NotNil(t, c.Server)
	}
}

func TestCompare_Scenario(t *testing.T) {
	prev := Create([]models.Server{server("A", "1.0"), server("B", "1.0")}, t0)
	prev.ID = "prev"
	cur := Create([]models.Server{server("A", "1.1"), server("C", "1.0")}, t0.Add(time.Hour))
	cur.ID = "cur"

	diff := Compare(prev, cur)

	require.Equal(t, 3, diff.TotalChanges)
	require.Len(t, diff.UpdatedServers, 1)
	up := diff.UpdatedServers[0]
	assert.Equal(t, "A", up.ServerName)
	assert.Equal(t, models.ChangeUpdated, up.ChangeType)
	assert.Equal(t, "1.0", up.PreviousVersion)
	assert.Equal(t, "1.1", up.NewVersion)
	assert.Equal(t, "prev", up.PreviousSnapshotID)
	assert.Equal(t, "cur", up.SnapshotID)

	assert.Equal(t, []string{"C"}, names(diff.NewServers))
	assert.Equal(t, "1.0", diff.NewServers[0].NewVersion)

	require.Len(t, diff.RemovedServers, 1)
	rm := diff.RemovedServers[0]
	assert.Equal(t, "B", rm.ServerName)
	assert.Nil(t, rm.Server)
	assert.Equal(t, "1.0", rm.PreviousVersion)

	assert.Equal(t, []string{"C", "A", "B"}, names(diff.Changes()))
}

func TestCompare_Identity(t *testing.T) {
	snap := Create([]models.Server{server("a", "1"), server("b", "1")}, t0)
	diff := Compare(snap, snap)
	assert.Zero(t, diff.TotalChanges)
	assert.False(t, HasChanges(snap, snap))
}

func TestCompare_EmptyToEmpty(t *testing.T) {
	empty := Create(nil, t0)
	assert.Zero(t, Compare(nil, empty).TotalChanges)
	assert.False(t, HasChanges(nil, empty))
}

// Random catalogs: Compare must classify exactly the names that differ and
// agree with HasChanges.
func TestCompare_RandomCatalogs(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	gen := func() []models.Server {
		var out []models.Server
		for i := 0; i < 12; i++ {
			if rng.Intn(3) == 0 {
				continue
			}
			out = append(out, server(fmt.Sprintf("srv-%d", i), fmt.Sprint(rng.Intn(2))))
		}
		return out
	}

	for i := 0; i < 200; i++ {
		l1, l2 := gen(), gen()
		s1, s2 := Create(l1, t0), Create(l2, t0)
		diff := Compare(s1, s2)

		want := map[string]models.ChangeType{}
		for name, e := range s2.Entries {
			prev, ok := s1.Entries[name]
			switch {
			case !ok:
				want[name] = models.ChangeNew
			case prev.Server.Version != e.Server.Version:
				want[name] = models.ChangeUpdated
			}
		}
		for name := range s1.Entries {
			if _, ok := s2.Entries[name]; !ok {
				want[name] = models.ChangeRemoved
			}
		}

		got := map[string]models.ChangeType{}
		for _, c := range diff.Changes() {
			got[c.ServerName] = c.ChangeType
		}
		require.Equal(t, want, got)
		require.Equal(t, len(want), diff.TotalChanges)
		require.Equal(t, diff.TotalChanges > 0, HasChanges(s1, s2))
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	srv := server("io.github.acme.tool", "0.3.0")
	srv.Capabilities = []string{"tools"}
	srv.CreatedAt = t0
	srv.UpdatedAt = t0.Add(time.Hour)
	live := Create([]models.Server{srv, server("b", "1")}, t0)
	live.ID = "live"

	b, err := Marshal(live)
	require.NoError(t, err)
	reloaded, err := Unmarshal(b)
	require.NoError(t, err)

	assert.Equal(t, live.ID, reloaded.ID)
	assert.Equal(t, 2, reloaded.ServerCount)
	assert.Zero(t, Compare(reloaded, live).TotalChanges)
	assert.Zero(t, Compare(live, reloaded).TotalChanges)
}

func TestCodec_SaveLoad(t *testing.T) {
	live := Create([]models.Server{server("a", "1")}, t0)
	path := filepath.Join(t.TempDir(), "snap.json")

	require.NoError(t, Save(path, live))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.False(t, HasChanges(loaded, live))
}

func TestCodec_RejectsTamperedEntry(t *testing.T) {
	live := Create([]models.Server{server("a", "1")}, t0)
	e := live.Entries["a"]
	e.Server.Version = "9"
	live.Entries["a"] = e

	b, err := Marshal(live)
	require.NoError(t, err)
	_, err = Unmarshal(b)
	assert.ErrorContains(t, err, "hash mismatch")
}
