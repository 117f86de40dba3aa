package system

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/slimekeep/server/internal/core/event"
	"github.com/slimekeep/server/internal/data"
	"github.com/slimekeep/server/internal/inventory"
	"github.com/slimekeep/server/internal/persist"
	"github.com/slimekeep/server/internal/profile"
	"github.com/slimekeep/server/internal/serialize"
	"github.com/slimekeep/server/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSlimeYAML = `slimes:
  - species: mossy
    start_scale: 0.4
    max_scale: 1.2
    body_color: "7FD05A"
    accent_color: "3C8A2E"
    tier: 1
    rarity: common
    value_base: 100
    value_per_growth: 2
    unfed_growth_duration: 600
    feed_speed_multiplier: 2
    hunger_speed_multiplier: 1
`

const testEggYAML = `eggs:
  - species: mossy
    hatch_total_seconds: 300
    rarity: common
    value_base: 40
    price: 50
`

const testFoodYAML = `foods:
  - food_id: berry
    restore_fraction: 0.25
    buffer_bonus_seconds: 60
    consumable: true
    charges: 3
    cooldown_seconds: 5
    price: 10
`

func testTables(t *testing.T) (*data.SlimeTable, *data.EggTable, *data.FoodTable) {
	t.Helper()
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}
	slimes, err := data.LoadSlimeTable(write("slime_list.yaml", testSlimeYAML))
	require.NoError(t, err)
	eggs, err := data.LoadEggTable(write("egg_list.yaml", testEggYAML))
	require.NoError(t, err)
	foods, err := data.LoadFoodTable(write("food_list.yaml", testFoodYAML))
	require.NoError(t, err)
	return slimes, eggs, foods
}

type preexitFixture struct {
	world *world.State
	kv    *persist.MemoryKV
	cache *profile.Cache
	ser   *serialize.Serializer
	inv   *inventory.Service
	bus   *event.Bus
	sync  *PreExitSync
}

func newPreexitFixture(t *testing.T) *preexitFixture {
	t.Helper()
	ws := world.NewState()
	kv := persist.NewMemoryKV()
	cache := newTestCache(t, kv)
	slimes, eggs, foods := testTables(t)
	ser := serialize.New(ws, slimes, eggs, foods, serialize.HatchPreserve, zap.NewNop())
	bus := event.NewBus()
	inv := inventory.New(cache, ser, bus, time.Second, zap.NewNop())
	sync := NewPreExitSync(ws, cache, inv, ser, bus, testPersistCfg(), zap.NewNop())
	return &preexitFixture{world: ws, kv: kv, cache: cache, ser: ser, inv: inv, bus: bus, sync: sync}
}

func TestPreExitBarrierConfirmedSave(t *testing.T) {
	f := newPreexitFixture(t)
	ctx := context.Background()

	_, err := f.cache.GetProfile(ctx, 7)
	require.NoError(t, err)
	f.cache.SetCoins(7, 50)

	f.world.AddPlayer(&world.Player{UserID: 7})
	f.world.AddSlime(&world.Slime{
		SlimeID:                 "s1",
		OwnerID:                 7,
		Species:                 "mossy",
		GrowthProgress:          0.6,
		PersistedGrowthProgress: 0.6,
		OfflineApplied:          true,
	})

	f.sync.Run(7)

	// The final write landed with the live slime and the sync stamp.
	rec, err := f.kv.Load(ctx, profile.Key(7))
	require.NoError(t, err)
	p, err := profile.FromMap(rec)
	require.NoError(t, err)
	require.Len(t, p.Inventory.WorldSlimes, 1)
	assert.Equal(t, "s1", p.Inventory.WorldSlimes[0].String("sid"))
	assert.Equal(t, int64(50), p.Core.Coins)
	assert.Greater(t, p.Meta.LastPreExitSync, int64(0))
	assert.Greater(t, p.Meta.LastPreExitSnapshot, int64(0))

	// The slot is released and the player is gone from the world.
	assert.False(t, f.cache.Loaded(7))
	assert.Nil(t, f.world.GetPlayer(7))

	// Owned live objects got the post-save grace stamp.
	sl := f.world.GetSlime("s1")
	require.NotNil(t, sl)
	assert.Greater(t, sl.RecentlyPlacedSaved, int64(0))
}

func TestPreExitRetainsProfileOnUnconfirmedSave(t *testing.T) {
	f := newPreexitFixture(t)
	ctx := context.Background()

	_, err := f.cache.GetProfile(ctx, 7)
	require.NoError(t, err)
	f.cache.SetCoins(7, 50)
	require.True(t, f.cache.AwaitSaveQueue(7, time.Second))

	f.world.AddPlayer(&world.Player{UserID: 7})
	f.kv.FailUpdates = 1

	f.sync.Run(7)

	// The slot stays resident for the autosave retry; the player still
	// leaves the world.
	assert.True(t, f.cache.Loaded(7))
	assert.Nil(t, f.world.GetPlayer(7))
	assert.Equal(t, int64(50), f.cache.Coins(7))
}

func TestPreExitWithoutLoadedProfileJustRemoves(t *testing.T) {
	f := newPreexitFixture(t)

	f.world.AddPlayer(&world.Player{UserID: 9})
	f.sync.Run(9)

	assert.Nil(t, f.world.GetPlayer(9))
	assert.Zero(t, f.kv.Updates)
}

func TestPreExitRefusesReentry(t *testing.T) {
	f := newPreexitFixture(t)

	pl := &world.Player{UserID: 7, SyncActive: true}
	f.world.AddPlayer(pl)

	f.sync.Run(7)

	// An active barrier wins; the second call backs off untouched.
	assert.NotNil(t, f.world.GetPlayer(7))
	assert.True(t, pl.SyncActive)
}
