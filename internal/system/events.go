package system

import (
	"time"

	"github.com/slimekeep/server/internal/core/event"
	coresys "github.com/slimekeep/server/internal/core/system"
)

// EventDispatchSystem rotates the event bus at tick start: last tick's
// emissions become this tick's dispatch. Phase 0 (Events).
type EventDispatchSystem struct {
	bus *event.Bus
}

func NewEventDispatchSystem(bus *event.Bus) *EventDispatchSystem {
	return &EventDispatchSystem{bus: bus}
}

func (s *EventDispatchSystem) Phase() coresys.Phase { return coresys.PhaseEvents }

func (s *EventDispatchSystem) Update(_ time.Duration) {
	s.bus.SwapBuffers()
	s.bus.DispatchAll()
}
