// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessionmux.hjson")
	require.NoError(t, os.WriteFile(path, []byte(`{ permissions: { allow: ["Read"] } }`), 0644))

	var mu sync.Mutex
	var reloaded []*Config
	w, err := NewWatcher(path, 20*time.Millisecond, func(cfg *Config) {
		mu.Lock()
		reloaded = append(reloaded, cfg)
		mu.Unlock()
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	last := func() *Config {
		mu.Lock()
		defer mu.Unlock()
		if len(reloaded) == 0 {
			return nil
		}
		return reloaded[len(reloaded)-1]
	}

	require.NoError(t, os.WriteFile(path, []byte(`{ permissions: { allow: ["Read", "Bash(ls)"] } }`), 0644))
	require.Eventually(t, func() bool {
		cfg := last()
		return cfg != nil && len(cfg.Permissions.Allow) == 2
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 7420, last().Server.Port, "defaults are applied")

	// Invalid edits are ignored.
	mu.Lock()
	count := len(reloaded)
	mu.Unlock()
	require.NoError(t, os.WriteFile(path, []byte(`{ logging: { level: "loud" } }`), 0644))
	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, count, len(reloaded))
	mu.Unlock()

	// Other files in the directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.hjson"), []byte(`{}`), 0644))
	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, count, len(reloaded))
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestNewWatcher_MissingDirectory(t *testing.T) {
	_, err := NewWatcher("/nonexistent/dir/sessionmux.hjson", 0, nil)
	assert.Error(t, err)
}
