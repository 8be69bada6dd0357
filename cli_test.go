package main

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/fiffu/registrywatch/lib/models"
	"github.com/fiffu/registrywatch/lib/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func saveSnapshot(t *testing.T, dir, name string, servers ...models.Server) string {
	path := filepath.Join(dir, name)
	snap := snapshot.Create(servers, time.Now())
	snap.ID = name
	require.NoError(t, snapshot.Save(path, snap))
	return path
}

func TestDiffCommand_SavedSnapshots(t *testing.T) {
	dir := t.TempDir()
	old := saveSnapshot(t, dir, "old.json",
		models.Server{Name: "A", Version: "1.0"},
		models.Server{Name: "B", Version: "1.0"},
	)
	cur := saveSnapshot(t, dir, "new.json",
		models.Server{Name: "A", Version: "1.1"},
		models.Server{Name: "C", Version: "1.0"},
	)

	var out bytes.Buffer
	cmd := diffCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{old, cur})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "+ C 1.0\n~ A 1.0 -> 1.1\n- B 1.0\n1 new, 1 updated, 1 removed\n", out.String())
}

func TestDiffCommand_NoChanges(t *testing.T) {
	dir := t.TempDir()
	a := saveSnapshot(t, dir, "a.json", models.Server{Name: "A", Version: "1.0"})
	b := saveSnapshot(t, dir, "b.json", models.Server{Name: "A", Version: "1.0"})

	var out bytes.Buffer
	cmd := diffCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{a, b})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "No changes\n", out.String())
}

func TestDiffCommand_Args(t *testing.T) {
	dir := t.TempDir()
	a := saveSnapshot(t, dir, "a.json")

	for _, args := range [][]string{
		{a},
		{a, a, "--live"},
		{filepath.Join(dir, "missing.json"), a},
	} {
		cmd := diffCommand()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(args)
		assert.Error(t, cmd.Execute(), "%v", args)
	}
}
