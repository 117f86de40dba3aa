package system

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/slimekeep/server/internal/config"
	"github.com/slimekeep/server/internal/data"
	"github.com/slimekeep/server/internal/persist"
	"github.com/slimekeep/server/internal/profile"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const factionYAML = `factions:
  - name: verdant
    palette: ["7FD05A"]
  - name: ember
    palette: []
`

func testFactions(t *testing.T) *data.FactionTable {
	t.Helper()
	path := filepath.Join(t.TempDir(), "faction_list.yaml")
	require.NoError(t, os.WriteFile(path, []byte(factionYAML), 0o644))
	table, err := data.LoadFactionTable(path)
	require.NoError(t, err)
	return table
}

func testPersistCfg() config.PersistenceConfig {
	return config.PersistenceConfig{
		SaveDebounce:      20 * time.Millisecond,
		AutosaveInterval:  time.Minute,
		VerifiedWait:      time.Second,
		ShutdownDeadline:  time.Second,
		UpdateMaxAttempts: 1,
		UpdateBackoffBase: time.Millisecond,
	}
}

func newTestCache(t *testing.T, kv persist.KV) *profile.Cache {
	t.Helper()
	c := profile.NewCache(kv, testPersistCfg(), []string{"verdant", "ember"}, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		c.Close(ctx)
	})
	return c
}
