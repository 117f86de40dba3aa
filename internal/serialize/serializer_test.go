package serialize

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/slimekeep/server/internal/data"
	"github.com/slimekeep/server/internal/profile"
	"github.com/slimekeep/server/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const slimeYAML = `slimes:
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

const eggYAML = `eggs:
  - species: mossy
    hatch_total_seconds: 300
    rarity: common
    value_base: 40
    price: 50
`

const foodYAML = `foods:
  - food_id: berry
    restore_fraction: 0.25
    buffer_bonus_seconds: 60
    consumable: true
    charges: 3
    cooldown_seconds: 5
    price: 10
`

func writeTable(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testTables(t *testing.T) (*data.SlimeTable, *data.EggTable, *data.FoodTable) {
	t.Helper()
	dir := t.TempDir()
	slimes, err := data.LoadSlimeTable(writeTable(t, dir, "slime_list.yaml", slimeYAML))
	require.NoError(t, err)
	eggs, err := data.LoadEggTable(writeTable(t, dir, "egg_list.yaml", eggYAML))
	require.NoError(t, err)
	foods, err := data.LoadFoodTable(writeTable(t, dir, "food_list.yaml", foodYAML))
	require.NoError(t, err)
	return slimes, eggs, foods
}

func newTestSerializer(t *testing.T, policy HatchRestorePolicy) (*world.State, *Serializer) {
	t.Helper()
	slimes, eggs, foods := testTables(t)
	ws := world.NewState()
	return ws, New(ws, slimes, eggs, foods, policy, zap.NewNop())
}

const owner int64 = 7

func seedWorld(ws *world.State) {
	ws.RegisterPlot(&world.Plot{ID: 1, OwnerID: owner, Origin: world.Vec3{X: 100, Y: 0, Z: -50}})
	ws.AddSlime(&world.Slime{
		SlimeID:                 "s1",
		OwnerID:                 owner,
		Species:                 "mossy",
		GrowthProgress:          0.6,
		PersistedGrowthProgress: 0.6,
		Scale:                   0.8,
		StartScale:              0.4,
		MaxScale:                1.2,
		Hunger:                  0.7,
		FeedBufferSeconds:       30,
		FeedSpeedMultiplier:     2,
		HungerSpeedMultiplier:   1,
		UnfedGrowthDuration:     600,
		BodyColor:               world.Color{R: 0x7F, G: 0xD0, B: 0x5A},
		AccentColor:             world.Color{R: 0x3C, G: 0x8A, B: 0x2E},
		Tier:                    1,
		Rarity:                  "common",
		ValueBase:               100,
		ValuePerGrowth:          2,
		AgeSeconds:              3600,
		LastGrowthUpdate:        time.Now().Unix(),
		Pos:                     world.Vec3{X: 110, Y: 1, Z: -48},
	})
	ws.AddEgg(&world.Egg{
		EggID:             "e1",
		OwnerID:           owner,
		Species:           "mossy",
		HatchTotalSeconds: 300,
		HatchAt:           time.Now().Unix() + 120,
		PlacedAt:          time.Now().Unix() - 180,
		Rarity:            "common",
		ValueBase:         40,
		Pos:               world.Vec3{X: 105, Y: 0, Z: -49},
	})
	ws.AddTool(&world.Tool{
		UID:       "food1",
		Kind:      world.ToolFood,
		OwnerID:   owner,
		Container: world.ContainerBackpack,
		FoodID:    "berry",
		Charges:   3,
	})
	ws.AddTool(&world.Tool{
		UID:               "egg1",
		Kind:              world.ToolEgg,
		OwnerID:           owner,
		Container:         world.ContainerBackpack,
		EggID:             "e2",
		Species:           "mossy",
		HatchTotalSeconds: 300,
	})
	ws.AddTool(&world.Tool{
		UID:       "cap1",
		Kind:      world.ToolCaptured,
		OwnerID:   owner,
		Container: world.ContainerBackpack,
		Captured: &world.CapturedAttrs{
			SlimeID:        "s2",
			Species:        "mossy",
			GrowthProgress: 1,
			ValueBase:      100,
			CurrentValue:   150,
		},
	})
}

func snapshotProfile(sn *Snapshot) *profile.Profile {
	p := profile.Seed(nil)
	p.Inventory.WorldSlimes = sn.WorldSlimes
	p.Inventory.WorldEggs = sn.WorldEggs
	p.Inventory.EggTools = sn.EggTools
	p.Inventory.FoodTools = sn.FoodTools
	p.Inventory.CapturedSlimes = sn.CapturedSlimes
	return p
}

func TestSerializeSweepsAllFields(t *testing.T) {
	ws, s := newTestSerializer(t, HatchPreserve)
	seedWorld(ws)

	sn := s.Serialize(owner, false)
	require.Len(t, sn.WorldSlimes, 1)
	require.Len(t, sn.WorldEggs, 1)
	require.Len(t, sn.EggTools, 1)
	require.Len(t, sn.FoodTools, 1)
	require.Len(t, sn.CapturedSlimes, 1)

	e := sn.WorldSlimes[0]
	assert.Equal(t, "s1", e.String("sid"))
	assert.Equal(t, 0.6, e.Float("gp"))
	assert.Equal(t, "7FD05A", e.String("c1"))
	// Plot-local coords accompany the absolute pose.
	assert.Equal(t, 10.0, e.Float("lx"))
	assert.Equal(t, 2.0, e.Float("lz"))
}

func TestRoundTripRebuildsLiveObjects(t *testing.T) {
	ws, s := newTestSerializer(t, HatchPreserve)
	seedWorld(ws)
	sn := s.Serialize(owner, false)

	// A fresh shard: same plot, nothing live.
	ws2, s2 := newTestSerializer(t, HatchPreserve)
	ws2.RegisterPlot(&world.Plot{ID: 1, OwnerID: owner, Origin: world.Vec3{X: 100, Y: 0, Z: -50}})

	s2.Restore(owner, snapshotProfile(sn))

	sl := ws2.GetSlime("s1")
	require.NotNil(t, sl)
	assert.Equal(t, 0.6, sl.GrowthProgress)
	assert.Equal(t, 0.7, sl.Hunger)
	assert.Equal(t, world.Vec3{X: 110, Y: 1, Z: -48}, sl.Pos)

	egg := ws2.GetEgg("e1")
	require.NotNil(t, egg)
	assert.Equal(t, "mossy", egg.Species)

	require.NotNil(t, ws2.GetTool("food1"))
	require.NotNil(t, ws2.GetTool("egg1"))
	captured := ws2.GetTool("cap1")
	require.NotNil(t, captured)
	require.NotNil(t, captured.Captured)
	assert.Equal(t, "s2", captured.Captured.SlimeID)
	assert.Equal(t, 150.0, captured.Captured.CurrentValue)
}

func TestRestoreRaisesGrowthToFloor(t *testing.T) {
	ws, s := newTestSerializer(t, HatchPreserve)
	p := profile.Seed(nil)
	p.Inventory.WorldSlimes = []profile.Entry{
		{"sid": "s1", "sp": "mossy", "gp": 0.3, "pgf": 0.73},
	}
	s.Restore(owner, p)

	sl := ws.GetSlime("s1")
	require.NotNil(t, sl)
	assert.Equal(t, 0.73, sl.GrowthProgress)
	// Template backfill fills what the stale snapshot lacked.
	assert.Equal(t, 600.0, sl.UnfedGrowthDuration)
	assert.Equal(t, 0.4, sl.StartScale)
}

func TestRestoreRefreshesExistingLiveSlime(t *testing.T) {
	ws, s := newTestSerializer(t, HatchPreserve)
	ws.AddSlime(&world.Slime{SlimeID: "s1", OwnerID: owner, Species: "mossy", GrowthProgress: 0.9})

	p := profile.Seed(nil)
	p.Inventory.WorldSlimes = []profile.Entry{
		{"sid": "s1", "sp": "mossy", "gp": 0.2, "px": 5.0, "py": 0.0, "pz": 5.0},
	}
	s.Restore(owner, p)

	sl := ws.GetSlime("s1")
	// Live growth wins; only the pose refreshes.
	assert.Equal(t, 0.9, sl.GrowthProgress)
	assert.Equal(t, world.Vec3{X: 5, Y: 0, Z: 5}, sl.Pos)
}

func TestHatchRestorePolicies(t *testing.T) {
	entry := profile.Entry{"eid": "e1", "sp": "mossy", "ha": int64(1000), "trm": 120.0}

	for _, tc := range []struct {
		policy HatchRestorePolicy
		check  func(t *testing.T, egg *world.Egg)
	}{
		{HatchPreserve, func(t *testing.T, egg *world.Egg) {
			assert.Equal(t, int64(1000), egg.HatchAt)
		}},
		{HatchRemaining, func(t *testing.T, egg *world.Egg) {
			assert.InDelta(t, time.Now().Unix()+120, egg.HatchAt, 2)
		}},
		{HatchReady, func(t *testing.T, egg *world.Egg) {
			assert.InDelta(t, time.Now().Unix(), egg.HatchAt, 2)
		}},
	} {
		t.Run(string(tc.policy), func(t *testing.T) {
			ws, s := newTestSerializer(t, tc.policy)
			p := profile.Seed(nil)
			p.Inventory.WorldEggs = []profile.Entry{entry.Clone()}
			s.Restore(owner, p)
			egg := ws.GetEgg("e1")
			require.NotNil(t, egg)
			tc.check(t, egg)
		})
	}
}

func TestSerializeDeduplicatesRepeatedIDs(t *testing.T) {
	ws, s := newTestSerializer(t, HatchPreserve)
	for _, uid := range []string{"cap1", "cap2"} {
		ws.AddTool(&world.Tool{
			UID:     uid,
			Kind:    world.ToolCaptured,
			OwnerID: owner,
			Captured: &world.CapturedAttrs{
				SlimeID: "s-dup",
				Species: "mossy",
			},
		})
	}

	sn := s.Serialize(owner, false)
	assert.Len(t, sn.CapturedSlimes, 1)
}

func TestSerializeTruncatesOverCap(t *testing.T) {
	ws, s := newTestSerializer(t, HatchPreserve)
	for i := 0; i < 70; i++ {
		ws.AddSlime(&world.Slime{
			SlimeID: fmt.Sprintf("s%d", i),
			OwnerID: owner,
			Species: "mossy",
		})
	}

	sn := s.Serialize(owner, false)
	assert.Len(t, sn.WorldSlimes, 60)
}

func TestFinalSerializeFallsBackToLastSnapshot(t *testing.T) {
	ws, s := newTestSerializer(t, HatchPreserve)
	seedWorld(ws)

	first := s.Serialize(owner, false)
	require.Len(t, first.WorldSlimes, 1)

	// Teardown already destroyed everything live.
	ws.RemoveSlime("s1")
	sn := s.Serialize(owner, true)
	assert.Len(t, sn.WorldSlimes, 1)
	assert.Equal(t, "s1", sn.WorldSlimes[0].String("sid"))

	// A non-final sweep reports the truth.
	sn = s.Serialize(owner, false)
	assert.Empty(t, sn.WorldSlimes)

	// After eviction the fallback is gone too.
	s.DropCache(owner)
	sn = s.Serialize(owner, true)
	assert.Empty(t, sn.WorldSlimes)
}

func TestRestoreBuildsPlaceholderForUnknownFood(t *testing.T) {
	ws, s := newTestSerializer(t, HatchPreserve)
	p := profile.Seed(nil)
	p.Inventory.FoodTools = []profile.Entry{
		{"uid": "f1", "fid": "discontinued-snack"},
		{"uid": "f2", "fid": "berry"},
	}
	s.Restore(owner, p)

	unknown := ws.GetTool("f1")
	require.NotNil(t, unknown)
	assert.True(t, unknown.Placeholder)

	known := ws.GetTool("f2")
	require.NotNil(t, known)
	assert.False(t, known.Placeholder)
	assert.Equal(t, 0.25, known.RestoreFraction)
	assert.Equal(t, 60.0, known.BufferBonusSeconds)
}

func TestRestoreRepairsPlaceholderEggTool(t *testing.T) {
	ws, s := newTestSerializer(t, HatchPreserve)
	ws.AddTool(&world.Tool{
		UID:         "egg1",
		Kind:        world.ToolEgg,
		OwnerID:     owner,
		Placeholder: true,
	})

	p := profile.Seed(nil)
	p.Inventory.EggTools = []profile.Entry{
		{"uid": "egg1", "eid": "e2", "sp": "mossy"},
	}
	s.Restore(owner, p)

	tool := ws.GetTool("egg1")
	require.NotNil(t, tool)
	assert.False(t, tool.Placeholder)
	assert.Equal(t, "mossy", tool.Species)
	assert.Equal(t, 300.0, tool.HatchTotalSeconds)
}

func TestRestoreLeavesProfileSlicesIntact(t *testing.T) {
	ws, s := newTestSerializer(t, HatchPreserve)
	p := profile.Seed(nil)
	p.Inventory.WorldSlimes = []profile.Entry{
		{"sid": "s1", "sp": "mossy", "gp": 0.3},
		{"sid": "s1", "sp": "mossy", "gp": 0.5},
		{"sid": "s2", "sp": "mossy", "gp": 0.7},
	}
	s.Restore(owner, p)

	// Only the first occurrence of a repeated id builds a slime.
	sl := ws.GetSlime("s1")
	require.NotNil(t, sl)
	assert.Equal(t, 0.3, sl.GrowthProgress)
	require.NotNil(t, ws.GetSlime("s2"))

	// The cached profile still owns its slices; dedupe must never shuffle
	// entries in place under the profile's feet.
	var ids []string
	for _, e := range p.Inventory.WorldSlimes {
		ids = append(ids, e.String("sid"))
	}
	assert.Equal(t, []string{"s1", "s1", "s2"}, ids)
}
