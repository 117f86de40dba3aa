package system

import (
	"context"
	"testing"
	"time"

	"github.com/slimekeep/server/internal/config"
	"github.com/slimekeep/server/internal/persist"
	"github.com/slimekeep/server/internal/profile"
	"github.com/slimekeep/server/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testSaleCfg() config.SaleConfig {
	return config.SaleConfig{
		StandingMultMin: 0.8,
		StandingMultMax: 1.2,
		ColorBonusMax:   1.25,
		ColorExponent:   2,
		MinPayout:       1,
		GainGrossWeight: 0.5,
		GainPayWeight:   0.5,
		GainStandDamp:   4,
		GainDivisor:     10000,
		GainClamp:       0.02,
	}
}

type payoutRecord struct {
	faction string
	amount  int64
	userID  int64
}

type recordingTotals struct {
	payouts []payoutRecord
}

func (r *recordingTotals) AddPayout(_ context.Context, faction string, amount int64, userID int64) (bool, string) {
	r.payouts = append(r.payouts, payoutRecord{faction, amount, userID})
	return true, ""
}

func newSaleFixture(t *testing.T) (*world.State, *profile.Cache, *recordingTotals, *SalePipeline) {
	t.Helper()
	ws := world.NewState()
	cache := newTestCache(t, persist.NewMemoryKV())
	totals := &recordingTotals{}
	sp := NewSalePipeline(ws, cache, testFactions(t), totals, testSaleCfg(), time.Second, zap.NewNop())
	return ws, cache, totals, sp
}

func capturedTool(uid, sid string, owner int64, value float64) *world.Tool {
	return &world.Tool{
		UID:     uid,
		Kind:    world.ToolCaptured,
		OwnerID: owner,
		Captured: &world.CapturedAttrs{
			SlimeID:      sid,
			Species:      "mossy",
			CurrentValue: value,
		},
	}
}

func TestSellAtNeutralStanding(t *testing.T) {
	ws, cache, totals, sp := newSaleFixture(t)
	ctx := context.Background()

	_, err := cache.GetProfile(ctx, 7)
	require.NoError(t, err)
	cache.SetCoins(7, 100)
	require.NoError(t, cache.AddInventoryItem(ctx, 7, profile.FieldCapturedSlimes, profile.Entry{"uid": "t1", "sid": "s1"}))
	require.NoError(t, cache.AddInventoryItem(ctx, 7, profile.FieldWorldSlimes, profile.Entry{"sid": "s1"}))
	ws.AddTool(capturedTool("t1", "s1", 7, 80))

	// Ember has no palette and default standing is 0.5, so both
	// multipliers come out flat.
	res := sp.Sell(ctx, 7, "ember", []string{"t1"})
	require.True(t, res.OK)
	assert.Equal(t, int64(80), res.TotalPayout)
	assert.Equal(t, int64(80), res.TotalBase)
	assert.Equal(t, int64(180), cache.Coins(7))

	// Standing moved by (80*0.5+80*0.5)/(1+0.5*4)/10000.
	assert.InDelta(t, 0.5+80.0/3/10000, res.NewStanding, 1e-9)

	// Profile entries and live instances are gone.
	var captured, placed int
	cache.View(7, func(p *profile.Profile) {
		captured = len(p.Inventory.CapturedSlimes)
		placed = len(p.Inventory.WorldSlimes)
	})
	assert.Zero(t, captured)
	assert.Zero(t, placed)
	assert.Nil(t, ws.GetTool("t1"))

	// The faction side is recorded unattributed, coins came from ApplySale.
	require.Len(t, totals.payouts, 1)
	assert.Equal(t, payoutRecord{"ember", 80, 0}, totals.payouts[0])
}

func TestSellColorBonusAtExactMatch(t *testing.T) {
	ws, cache, _, sp := newSaleFixture(t)
	ctx := context.Background()

	_, err := cache.GetProfile(ctx, 7)
	require.NoError(t, err)
	require.NoError(t, cache.AddInventoryItem(ctx, 7, profile.FieldCapturedSlimes, profile.Entry{"uid": "t1", "sid": "s1"}))

	tool := capturedTool("t1", "s1", 7, 80)
	body, ok := world.ParseColor("7FD05A")
	require.True(t, ok)
	tool.Captured.BodyColor = body
	ws.AddTool(tool)

	res := sp.Sell(ctx, 7, "verdant", []string{"t1"})
	require.True(t, res.OK)
	// 80 * 1.0 standing * 1.25 exact-match color bonus.
	assert.Equal(t, int64(100), res.TotalPayout)
}

func TestStandingMultRange(t *testing.T) {
	_, _, _, sp := newSaleFixture(t)

	assert.InDelta(t, 0.8, sp.StandingMult(0), 1e-9)
	assert.InDelta(t, 1.0, sp.StandingMult(0.5), 1e-9)
	assert.InDelta(t, 1.2, sp.StandingMult(1), 1e-9)
	assert.InDelta(t, 0.8, sp.StandingMult(-3), 1e-9)
	assert.InDelta(t, 1.2, sp.StandingMult(9), 1e-9)
}

func TestSellRejectsBadRequests(t *testing.T) {
	ws, cache, _, sp := newSaleFixture(t)
	ctx := context.Background()

	res := sp.Sell(ctx, 7, "obsidian", []string{"t1"})
	assert.False(t, res.OK)
	assert.Equal(t, "unknown faction", res.Reason)

	res = sp.Sell(ctx, 7, "ember", nil)
	assert.False(t, res.OK)

	// A tool owned by someone else never prices.
	_, err := cache.GetProfile(ctx, 7)
	require.NoError(t, err)
	ws.AddTool(capturedTool("t1", "s1", 99, 80))
	res = sp.Sell(ctx, 7, "ember", []string{"t1"})
	assert.False(t, res.OK)
	assert.Equal(t, "no sellable items", res.Reason)
	assert.NotNil(t, ws.GetTool("t1"))
}

func TestSellGrowthScaledFallbackValue(t *testing.T) {
	ws, cache, _, sp := newSaleFixture(t)
	ctx := context.Background()

	_, err := cache.GetProfile(ctx, 7)
	require.NoError(t, err)
	require.NoError(t, cache.AddInventoryItem(ctx, 7, profile.FieldCapturedSlimes, profile.Entry{"uid": "t1", "sid": "s1"}))

	tool := capturedTool("t1", "s1", 7, 0)
	tool.Captured.ValueBase = 100
	tool.Captured.ValuePerGrowth = 0.5
	tool.Captured.GrowthProgress = 0.6
	ws.AddTool(tool)

	res := sp.Sell(ctx, 7, "ember", []string{"t1"})
	require.True(t, res.OK)
	// 100 * (1 + 0.5*0.6) = 130 at flat multipliers.
	assert.Equal(t, int64(130), res.TotalPayout)
}

func TestSellFloorsAtMinPayout(t *testing.T) {
	ws, cache, _, sp := newSaleFixture(t)
	ctx := context.Background()

	_, err := cache.GetProfile(ctx, 7)
	require.NoError(t, err)
	require.NoError(t, cache.AddInventoryItem(ctx, 7, profile.FieldCapturedSlimes, profile.Entry{"uid": "t1", "sid": "s1"}))
	ws.AddTool(capturedTool("t1", "s1", 7, 0))

	res := sp.Sell(ctx, 7, "ember", []string{"t1"})
	require.True(t, res.OK)
	assert.Equal(t, int64(1), res.TotalPayout)
}

func TestRemoveResidueSweepsReaddedEntries(t *testing.T) {
	_, cache, _, sp := newSaleFixture(t)
	ctx := context.Background()

	_, err := cache.GetProfile(ctx, 7)
	require.NoError(t, err)

	// A growth stamp landing between the atomic removal and the save
	// re-creates the placed entry; the sweep must catch it.
	require.NoError(t, cache.Mutate(ctx, 7, "test", func(p *profile.Profile) {
		p.Inventory.WorldSlimes = append(p.Inventory.WorldSlimes, profile.Entry{"sid": "s1", "gp": 0.5})
		p.Inventory.CapturedSlimes = append(p.Inventory.CapturedSlimes, profile.Entry{"uid": "t1", "sid": "s1"})
	}))

	removed := sp.removeResidue(7, []string{"s1"}, []string{"t1"})
	assert.Equal(t, 2, removed)

	var captured, placed int
	cache.View(7, func(p *profile.Profile) {
		captured = len(p.Inventory.CapturedSlimes)
		placed = len(p.Inventory.WorldSlimes)
	})
	assert.Zero(t, captured)
	assert.Zero(t, placed)
}

func TestStandingGainClamped(t *testing.T) {
	_, _, _, sp := newSaleFixture(t)

	assert.Equal(t, 0.02, sp.standingGain(1_000_000, 1_000_000, 0))
	assert.Zero(t, sp.standingGain(0, 0, 0.5))
}
