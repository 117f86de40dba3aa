package profile

import (
	"go.uber.org/zap"
)

// MergeOptions carries the per-save flags the commit-time guards consult.
type MergeOptions struct {
	// OverrideEmptyGuard lets an empty outgoing field replace a non-empty
	// stored field. Set only by callers that positively know the field was
	// emptied on purpose (pre-exit finalization, sales).
	OverrideEmptyGuard bool
	// SpendRecorded is true once any coin-debit happened since the profile
	// was loaded; it disarms the coin-zero protection.
	SpendRecorded bool
}

// MergeReport describes guard decisions so the saver can reconcile the
// in-memory slot with what was actually committed.
type MergeReport struct {
	CoinsRestored  bool
	FieldsRestored []string
}

// Merge produces the value committed to the remote store: the outgoing
// snapshot corrected against the latest stored value. prior is nil on the
// first write. The returned profile is freshly allocated.
//
// Rules, in order:
//  1. dataVersion = prior.dataVersion + 1 (strictly increasing per write).
//  2. Empty-overwrite guard per inventory field unless overridden.
//  3. Coin-zero protection when no spend was recorded since load.
//  4. PersistedGrowthProgress floor: never below the stored value for the
//     same slime id.
//  5. Value clamps (coins >= 0, standing in [0,1]).
func Merge(userID int64, prior, snapshot *Profile, opts MergeOptions, log *zap.Logger) (*Profile, MergeReport) {
	merged := snapshot.Clone()
	var report MergeReport

	if prior == nil {
		merged.Meta.DataVersion = 1
		merged.Clamp()
		return merged, report
	}

	merged.Meta.DataVersion = prior.Meta.DataVersion + 1

	for _, field := range Fields {
		out := merged.Field(field)
		old := prior.Field(field)
		if len(*out) == 0 && len(*old) > 0 {
			if opts.OverrideEmptyGuard {
				log.Info("empty field overwrite allowed by override",
					zap.Int64("user", userID),
					zap.String("field", field),
					zap.Int("prior", len(*old)))
				continue
			}
			log.Warn("empty-overwrite guard restored prior field",
				zap.Int64("user", userID),
				zap.String("field", field),
				zap.Int("prior", len(*old)))
			*out = cloneEntries(*old)
			report.FieldsRestored = append(report.FieldsRestored, field)
		}
	}

	if merged.Core.Coins == 0 && prior.Core.Coins > 0 && !opts.SpendRecorded {
		log.Warn("coin-zero protection restored prior balance",
			zap.Int64("user", userID),
			zap.Int64("prior", prior.Core.Coins))
		merged.Core.Coins = prior.Core.Coins
		report.CoinsRestored = true
	}

	raiseGrowthFloors(merged, prior, FieldWorldSlimes)
	raiseGrowthFloors(merged, prior, FieldCapturedSlimes)

	merged.Clamp()
	return merged, report
}

// raiseGrowthFloors enforces the non-regressing persisted growth floor:
// an outgoing entry never stores a pgf below what the store already holds
// for the same slime id.
func raiseGrowthFloors(merged, prior *Profile, field string) {
	old := *prior.Field(field)
	if len(old) == 0 {
		return
	}
	floors := make(map[string]float64, len(old))
	for _, e := range old {
		if id := e.String(KeySlimeID); id != "" {
			floors[id] = e.Float(KeyGrowthFloor)
		}
	}
	for _, e := range *merged.Field(field) {
		id := e.String(KeySlimeID)
		if id == "" {
			continue
		}
		if floor, ok := floors[id]; ok && e.Float(KeyGrowthFloor) < floor {
			e[KeyGrowthFloor] = floor
		}
	}
}

// EmptyGuard applies the empty-overwrite rule to a single in-memory field
// replacement, mirroring the commit-time guard so the cached profile never
// transits through a wrongly emptied state. Returns the entries to adopt
// and whether the guard fired.
func EmptyGuard(current, incoming []Entry, override bool) ([]Entry, bool) {
	if len(incoming) == 0 && len(current) > 0 && !override {
		return current, true
	}
	return incoming, false
}
