// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InvalidRule(t *testing.T) {
	_, err := New([]string{"Read", "Bash(oops"}, nil)
	assert.Error(t, err)
}

func TestPolicy_Allows(t *testing.T) {
	p, err := New([]string{"Read", "Bash(go test *)"}, nil)
	require.NoError(t, err)

	assert.True(t, p.Allows("Read", json.RawMessage(`{"file_path":"x"}`)))
	assert.True(t, p.Allows("Bash", json.RawMessage(`{"command":"go test ./..."}`)))
	assert.False(t, p.Allows("Bash", json.RawMessage(`{"command":"rm -rf /"}`)))
	assert.False(t, p.Allows("Write", json.RawMessage(`{"file_path":"x"}`)))
}

func TestPolicy_SetRules(t *testing.T) {
	p, err := New([]string{"Read"}, nil)
	require.NoError(t, err)

	require.NoError(t, p.SetRules([]string{"Write"}))
	assert.False(t, p.Allows("Read", nil))
	assert.True(t, p.Allows("Write", nil))

	assert.Error(t, p.SetRules([]string{"Bad("}))
	assert.True(t, p.Allows("Write", nil), "failed reload keeps previous rules")
}

func TestPolicy_RememberInMemory(t *testing.T) {
	p, err := New(nil, nil)
	require.NoError(t, err)

	input := json.RawMessage(`{"command":"npm i"}`)
	assert.False(t, p.Allows("Bash", input))

	r, err := p.Remember("Bash", input)
	require.NoError(t, err)
	assert.Equal(t, Rule{Tool: "Bash", Pattern: "npm i"}, r)
	assert.True(t, p.Allows("Bash", input))
	assert.False(t, p.Allows("Bash", json.RawMessage(`{"command":"npm i left-pad"}`)))

	_, err = p.Remember("Bash", input)
	require.NoError(t, err)
	assert.Len(t, p.Rules(), 1)

	require.NoError(t, p.Forget(r))
	assert.False(t, p.Allows("Bash", input))
}

func TestPolicy_RememberPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules", "rules.db")

	store, err := OpenStore(path)
	require.NoError(t, err)
	p, err := New([]string{"Read"}, store)
	require.NoError(t, err)
	_, err = p.Remember("Edit", json.RawMessage(`{"file_path":"main.go"}`))
	require.NoError(t, err)
	_, err = p.Remember("Bash", json.RawMessage(`{"command":"make"}`))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = OpenStore(path)
	require.NoError(t, err)
	defer store.Close()

	p, err = New(nil, store)
	require.NoError(t, err)
	assert.True(t, p.Allows("Edit", json.RawMessage(`{"file_path":"main.go"}`)))
	assert.True(t, p.Allows("Bash", json.RawMessage(`{"command":"make"}`)))
	assert.False(t, p.Allows("Read", nil))
	assert.Equal(t, []Rule{
		{Tool: "Edit", Pattern: "main.go"},
		{Tool: "Bash", Pattern: "make"},
	}, p.Rules())
}

func TestStore_AddIdempotent(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "rules.db"))
	require.NoError(t, err)
	defer store.Close()

	r := Rule{Tool: "Bash", Pattern: "ls"}
	require.NoError(t, store.Add(r))
	require.NoError(t, store.Add(r))

	rules, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []Rule{r}, rules)

	require.NoError(t, store.Delete(r))
	rules, err = store.List()
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestOpenStore_EmptyPath(t *testing.T) {
	_, err := OpenStore("  ")
	assert.Error(t, err)
}
