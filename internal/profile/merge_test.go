package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testProfile(coins int64, slimes ...Entry) *Profile {
	p := Seed([]string{"verdant", "ember"})
	p.Core.Coins = coins
	p.Inventory.WorldSlimes = slimes
	return p
}

func TestMergeFirstWriteStartsVersionAtOne(t *testing.T) {
	merged, report := Merge(1, nil, testProfile(50), MergeOptions{}, zap.NewNop())
	assert.Equal(t, int64(1), merged.Meta.DataVersion)
	assert.False(t, report.CoinsRestored)
	assert.Empty(t, report.FieldsRestored)
}

func TestMergeVersionStrictlyIncreases(t *testing.T) {
	prior := testProfile(50)
	prior.Meta.DataVersion = 7

	snapshot := testProfile(50)
	snapshot.Meta.DataVersion = 3 // stale in-memory version must not win

	merged, _ := Merge(1, prior, snapshot, MergeOptions{}, zap.NewNop())
	assert.Equal(t, int64(8), merged.Meta.DataVersion)
}

func TestMergeEmptyOverwriteGuard(t *testing.T) {
	prior := testProfile(50, Entry{"sid": "s1", "gp": 0.5})
	snapshot := testProfile(50) // worldSlimes empty, looks like a wipe

	merged, report := Merge(1, prior, snapshot, MergeOptions{}, zap.NewNop())
	require.Len(t, merged.Inventory.WorldSlimes, 1)
	assert.Equal(t, "s1", merged.Inventory.WorldSlimes[0].String("sid"))
	assert.Equal(t, []string{FieldWorldSlimes}, report.FieldsRestored)
}

func TestMergeEmptyOverwriteOverride(t *testing.T) {
	prior := testProfile(50, Entry{"sid": "s1"})
	snapshot := testProfile(50)

	merged, report := Merge(1, prior, snapshot, MergeOptions{OverrideEmptyGuard: true}, zap.NewNop())
	assert.Empty(t, merged.Inventory.WorldSlimes)
	assert.Empty(t, report.FieldsRestored)
}

func TestMergeCoinZeroProtection(t *testing.T) {
	prior := testProfile(120)
	snapshot := testProfile(0)

	merged, report := Merge(1, prior, snapshot, MergeOptions{}, zap.NewNop())
	assert.Equal(t, int64(120), merged.Core.Coins)
	assert.True(t, report.CoinsRestored)

	// A recorded spend means zero is a legitimate balance.
	merged, report = Merge(1, prior, snapshot, MergeOptions{SpendRecorded: true}, zap.NewNop())
	assert.Equal(t, int64(0), merged.Core.Coins)
	assert.False(t, report.CoinsRestored)
}

func TestMergeGrowthFloorNeverRegresses(t *testing.T) {
	prior := testProfile(0, Entry{"sid": "s1", "gp": 0.9, "pgf": 0.9})
	snapshot := testProfile(0, Entry{"sid": "s1", "gp": 0.4, "pgf": 0.4})

	merged, _ := Merge(1, prior, snapshot, MergeOptions{}, zap.NewNop())
	require.Len(t, merged.Inventory.WorldSlimes, 1)
	assert.Equal(t, 0.9, merged.Inventory.WorldSlimes[0].Float("pgf"))
	// gp itself is volatile and follows the snapshot.
	assert.Equal(t, 0.4, merged.Inventory.WorldSlimes[0].Float("gp"))
}

func TestMergeClampsValues(t *testing.T) {
	prior := testProfile(10)
	snapshot := testProfile(-5)
	snapshot.Stats.Standing["verdant"] = 1.7

	merged, _ := Merge(1, prior, snapshot, MergeOptions{SpendRecorded: true}, zap.NewNop())
	assert.Equal(t, int64(0), merged.Core.Coins)
	assert.Equal(t, 1.0, merged.Stats.Standing["verdant"])
}

func TestEmptyGuardHelper(t *testing.T) {
	current := []Entry{{"sid": "s1"}}

	adopted, fired := EmptyGuard(current, nil, false)
	assert.True(t, fired)
	assert.Equal(t, current, adopted)

	adopted, fired = EmptyGuard(current, nil, true)
	assert.False(t, fired)
	assert.Empty(t, adopted)
}
