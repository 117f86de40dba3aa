package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseEvents  Phase = iota // 0: swap + dispatch last tick's events
	PhaseUpdate               // 1: growth accrual, hatch timers
	PhasePersist              // 2: stamp scheduling, observability summary
	PhaseCleanup              // 3: stage sweeper, deferred destruction
)

// System is the interface every tick system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
