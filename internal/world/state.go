package world

import "time"

// Player is an online player's world-side record.
type Player struct {
	UserID   int64
	PlotID   int64
	JoinedAt time.Time

	// SyncActive marks the pre-exit barrier as running; world cleanup
	// must not touch this player's objects while set.
	SyncActive bool
}

// Plot is a player's land plot. Origin anchors plot-local coordinates.
type Plot struct {
	ID      int64
	OwnerID int64
	Origin  Vec3
}

// State is the live-world registry: players, plots, slimes, eggs and
// tools. Accessed only from the game loop goroutine (same convention the
// whole world package follows); the profile cache is the cross-goroutine
// boundary.
type State struct {
	players map[int64]*Player
	plots   map[int64]*Plot
	slimes  map[string]*Slime
	eggs    map[string]*Egg
	tools   map[string]*Tool
}

func NewState() *State {
	return &State{
		players: make(map[int64]*Player),
		plots:   make(map[int64]*Plot),
		slimes:  make(map[string]*Slime),
		eggs:    make(map[string]*Egg),
		tools:   make(map[string]*Tool),
	}
}

// --- players ---

func (s *State) AddPlayer(p *Player) {
	s.players[p.UserID] = p
}

func (s *State) RemovePlayer(userID int64) *Player {
	p, ok := s.players[userID]
	if !ok {
		return nil
	}
	delete(s.players, userID)
	return p
}

func (s *State) GetPlayer(userID int64) *Player {
	return s.players[userID]
}

func (s *State) AllPlayers(fn func(*Player)) {
	for _, p := range s.players {
		fn(p)
	}
}

// --- plots ---

func (s *State) RegisterPlot(p *Plot) {
	s.plots[p.ID] = p
}

func (s *State) GetPlot(plotID int64) *Plot {
	return s.plots[plotID]
}

// PlotOriginFor returns the owning plot's origin for a user, if any.
func (s *State) PlotOriginFor(userID int64) (Vec3, bool) {
	p := s.players[userID]
	if p == nil {
		return Vec3{}, false
	}
	plot := s.plots[p.PlotID]
	if plot == nil {
		return Vec3{}, false
	}
	return plot.Origin, true
}

// --- slimes ---

func (s *State) AddSlime(sl *Slime) {
	s.slimes[sl.SlimeID] = sl
}

func (s *State) RemoveSlime(slimeID string) *Slime {
	sl, ok := s.slimes[slimeID]
	if !ok {
		return nil
	}
	delete(s.slimes, slimeID)
	return sl
}

func (s *State) GetSlime(slimeID string) *Slime {
	return s.slimes[slimeID]
}

func (s *State) SlimesByOwner(userID int64) []*Slime {
	var result []*Slime
	for _, sl := range s.slimes {
		if sl.OwnerID == userID {
			result = append(result, sl)
		}
	}
	return result
}

func (s *State) AllSlimes(fn func(*Slime)) {
	for _, sl := range s.slimes {
		fn(sl)
	}
}

func (s *State) SlimeCount() int { return len(s.slimes) }

// --- eggs ---

func (s *State) AddEgg(e *Egg) {
	s.eggs[e.EggID] = e
}

func (s *State) RemoveEgg(eggID string) *Egg {
	e, ok := s.eggs[eggID]
	if !ok {
		return nil
	}
	delete(s.eggs, eggID)
	return e
}

func (s *State) GetEgg(eggID string) *Egg {
	return s.eggs[eggID]
}

func (s *State) EggsByOwner(userID int64) []*Egg {
	var result []*Egg
	for _, e := range s.eggs {
		if e.OwnerID == userID {
			result = append(result, e)
		}
	}
	return result
}

// --- tools ---

func (s *State) AddTool(t *Tool) {
	s.tools[t.UID] = t
}

func (s *State) RemoveTool(uid string) *Tool {
	t, ok := s.tools[uid]
	if !ok {
		return nil
	}
	delete(s.tools, uid)
	return t
}

func (s *State) GetTool(uid string) *Tool {
	return s.tools[uid]
}

// ToolsByOwner returns a user's tools of one kind in backpack, character
// or server custody.
func (s *State) ToolsByOwner(userID int64, kind ToolKind) []*Tool {
	var result []*Tool
	for _, t := range s.tools {
		if t.OwnerID == userID && t.Kind == kind {
			result = append(result, t)
		}
	}
	return result
}

func (s *State) AllTools(fn func(*Tool)) {
	for _, t := range s.tools {
		fn(t)
	}
}

func (s *State) ToolCount() int { return len(s.tools) }
