package system

import (
	"context"
	"math"
	"time"

	"github.com/slimekeep/server/internal/config"
	"github.com/slimekeep/server/internal/data"
	"github.com/slimekeep/server/internal/profile"
	"github.com/slimekeep/server/internal/world"
	"go.uber.org/zap"
)

// TotalsRecorder accepts the faction-side effect of a sale. FactionTotals
// implements it; NopTotals drops it in tests.
type TotalsRecorder interface {
	AddPayout(ctx context.Context, faction string, amount int64, userID int64) (bool, string)
}

type NopTotals struct{}

func (NopTotals) AddPayout(context.Context, string, int64, int64) (bool, string) { return true, "" }

// SaleItem is one priced line of a sale.
type SaleItem struct {
	ToolUID string
	SlimeID string
	Payout  int64
	Base    int64
}

// SaleResult reports the outcome of a sale request.
type SaleResult struct {
	OK          bool
	Reason      string
	Items       []SaleItem
	TotalPayout int64
	TotalBase   int64
	NewStanding float64
}

// SalePipeline turns captured-slime tools into coins: price, atomic
// profile mutation, verified save with residue check, live destruction,
// standing gain, faction total contribution.
type SalePipeline struct {
	world    *world.State
	cache    *profile.Cache
	factions *data.FactionTable
	totals   TotalsRecorder
	cfg      config.SaleConfig
	wait     time.Duration
	log      *zap.Logger
}

func NewSalePipeline(ws *world.State, cache *profile.Cache, factions *data.FactionTable, totals TotalsRecorder, cfg config.SaleConfig, verifiedWait time.Duration, log *zap.Logger) *SalePipeline {
	if totals == nil {
		totals = NopTotals{}
	}
	return &SalePipeline{
		world:    ws,
		cache:    cache,
		factions: factions,
		totals:   totals,
		cfg:      cfg,
		wait:     verifiedWait,
		log:      log,
	}
}

// StandingMult maps standing in [0,1] onto the configured payout
// multiplier range.
func (s *SalePipeline) StandingMult(standing float64) float64 {
	if standing < 0 {
		standing = 0
	} else if standing > 1 {
		standing = 1
	}
	return s.cfg.StandingMultMin + (s.cfg.StandingMultMax-s.cfg.StandingMultMin)*standing
}

// colorMult rewards proximity of the pet's body color to the buying
// faction's palette: 1.0 at maximum distance up to ColorBonusMax at an
// exact match. Factions without a palette pay flat.
func (s *SalePipeline) colorMult(faction *data.Faction, body world.Color) float64 {
	if len(faction.Palette) == 0 {
		return 1.0
	}
	best := math.MaxFloat64
	for _, c := range faction.Palette {
		if d := body.Distance(c); d < best {
			best = d
		}
	}
	norm := best / world.MaxColorDistance
	if norm > 1 {
		norm = 1
	}
	return 1 + (s.cfg.ColorBonusMax-1)*math.Pow(1-norm, s.cfg.ColorExponent)
}

// grossValue is the pet's pre-multiplier price: the tracked current value
// when the pet carries one, otherwise base value scaled by growth.
func grossValue(c *world.CapturedAttrs) float64 {
	if c.CurrentValue > 0 {
		return c.CurrentValue
	}
	return c.ValueBase * (1 + c.ValuePerGrowth*c.GrowthProgress)
}

// Sell executes a sale of the given captured-slime tools to a faction.
func (s *SalePipeline) Sell(ctx context.Context, userID int64, faction string, toolUIDs []string) SaleResult {
	fac := s.factions.Get(faction)
	if fac == nil {
		return SaleResult{Reason: "unknown faction"}
	}
	if len(toolUIDs) == 0 {
		return SaleResult{Reason: "nothing to sell"}
	}

	standing := s.cache.Standing(userID, faction)
	standMult := s.StandingMult(standing)

	var items []SaleItem
	var totalPayout, totalBase int64
	for _, uid := range toolUIDs {
		t := s.world.GetTool(uid)
		if t == nil || t.Kind != world.ToolCaptured || t.Captured == nil {
			s.log.Warn("sale item rejected, not a captured pet",
				zap.Int64("user", userID), zap.String("uid", uid))
			continue
		}
		if t.OwnerID != userID {
			s.log.Warn("sale item rejected, ownership mismatch",
				zap.Int64("user", userID), zap.Int64("owner", t.OwnerID), zap.String("uid", uid))
			continue
		}
		gross := grossValue(t.Captured)
		payout := int64(math.Floor(gross * standMult * s.colorMult(fac, t.Captured.BodyColor)))
		if payout < s.cfg.MinPayout {
			payout = s.cfg.MinPayout
		}
		items = append(items, SaleItem{
			ToolUID: uid,
			SlimeID: t.Captured.SlimeID,
			Payout:  payout,
			Base:    int64(math.Floor(gross)),
		})
		totalPayout += payout
		totalBase += int64(math.Floor(gross))
	}
	if len(items) == 0 {
		return SaleResult{Reason: "no sellable items"}
	}

	slimeIDs := make([]string, 0, len(items))
	toolIDs := make([]string, 0, len(items))
	for _, it := range items {
		slimeIDs = append(slimeIDs, it.SlimeID)
		toolIDs = append(toolIDs, it.ToolUID)
	}

	// Credit and removal commit together under the slot lock.
	s.cache.ApplySale(userID, slimeIDs, toolIDs, totalPayout, "sale")

	done, ok := s.cache.SaveNowAndWait(userID, s.wait, profile.SaveOptions{Verified: true})
	if !done || !ok {
		s.log.Warn("sale save not confirmed, profile stays dirty",
			zap.Int64("user", userID), zap.Bool("done", done), zap.Bool("ok", ok))
	}

	// Residue check: anything the atomic removal missed (duplicate entries
	// under a long-form key) gets a second sweep and one more save.
	if s.removeResidue(userID, slimeIDs, toolIDs) > 0 {
		s.log.Warn("sold entries lingered after save, re-removing",
			zap.Int64("user", userID))
		s.cache.SaveNowAndWait(userID, s.wait, profile.SaveOptions{Verified: true})
	}

	// Live destruction last: a crash before this point duplicates a tool,
	// never coins.
	for _, it := range items {
		s.world.RemoveTool(it.ToolUID)
		if it.SlimeID != "" {
			s.world.RemoveSlime(it.SlimeID)
		}
	}

	gain := s.standingGain(totalBase, totalPayout, standing)
	newStanding := s.cache.AdjustStanding(userID, faction, gain)
	s.cache.SaveNow(userID, "standing")

	// Coins were already credited through ApplySale; record the faction
	// contribution unattributed.
	s.totals.AddPayout(ctx, faction, totalPayout, 0)

	s.log.Info("sale completed",
		zap.Int64("user", userID),
		zap.String("faction", faction),
		zap.Int("items", len(items)),
		zap.Int64("payout", totalPayout),
		zap.Float64("standing", newStanding))

	return SaleResult{
		OK:          true,
		Items:       items,
		TotalPayout: totalPayout,
		TotalBase:   totalBase,
		NewStanding: newStanding,
	}
}

// removeResidue sweeps every inventory field for leftovers of the sold
// ids, across both the short and long key forms.
func (s *SalePipeline) removeResidue(userID int64, slimeIDs, toolIDs []string) int {
	removed := 0
	for _, sid := range slimeIDs {
		removed += s.cache.RemoveInventoryItem(userID, profile.FieldWorldSlimes, "sid", sid)
		removed += s.cache.RemoveInventoryItem(userID, profile.FieldCapturedSlimes, "sid", sid)
		removed += s.cache.RemoveInventoryItem(userID, profile.FieldCapturedSlimes, "SlimeId", sid)
	}
	for _, uid := range toolIDs {
		removed += s.cache.RemoveInventoryItem(userID, profile.FieldCapturedSlimes, "uid", uid)
		removed += s.cache.RemoveInventoryItem(userID, profile.FieldCapturedSlimes, "ToolUniqueId", uid)
		removed += s.cache.RemoveInventoryItem(userID, profile.FieldCapturedSlimes, "ToolUid", uid)
	}
	return removed
}

// standingGain computes the clamped standing increase from a completed
// sale: larger sales move standing more, higher existing standing damps
// the gain.
func (s *SalePipeline) standingGain(totalBase, totalPayout int64, standing float64) float64 {
	raw := (float64(totalBase)*s.cfg.GainGrossWeight + float64(totalPayout)*s.cfg.GainPayWeight) /
		(1 + standing*s.cfg.GainStandDamp) / s.cfg.GainDivisor
	if raw < 0 {
		return 0
	}
	if raw > s.cfg.GainClamp {
		return s.cfg.GainClamp
	}
	return raw
}
