// Package narrative holds the per-project story state and the validators
// that gate how that state is allowed to change between episodes.
package narrative

// ConflictStatus tracks a conflict tier through its lifecycle.
type ConflictStatus string

const (
	ConflictLocked   ConflictStatus = "locked"
	ConflictActive   ConflictStatus = "active"
	ConflictResolved ConflictStatus = "resolved"
)

// CharacterStatus tracks a character arc. A character may not move from
// unresolved straight to resolved; it must pass through a cost state first.
type CharacterStatus string

const (
	CharacterUnresolved  CharacterStatus = "unresolved"
	CharacterInjured     CharacterStatus = "injured"
	CharacterCompromised CharacterStatus = "compromised"
	CharacterResolved    CharacterStatus = "resolved"
)

// CharacterState describes one character in the story bible.
type CharacterState struct {
	Role         string          `json:"role"`
	Goal         string          `json:"goal"`
	Flaw         string          `json:"flaw"`
	Relationship string          `json:"relationship"`
	Status       CharacterStatus `json:"status"`
}

// Conflict is one tier of the three-tier conflict ladder.
type Conflict struct {
	Description string         `json:"description"`
	Status      ConflictStatus `json:"status"`
}

// ConflictTier names one of the three conflict tiers.
type ConflictTier string

const (
	TierImmediate ConflictTier = "immediate"
	TierMidTerm   ConflictTier = "mid_term"
	TierEndGame   ConflictTier = "end_game"
)

// ConflictSet holds the three conflict tiers. Higher tiers unlock only when
// the tier below is resolved.
type ConflictSet struct {
	Immediate Conflict `json:"immediate"`
	MidTerm   Conflict `json:"mid_term"`
	EndGame   Conflict `json:"end_game"`
}

// Tier returns the conflict for a named tier. Unknown tiers return a zero
// Conflict.
func (cs *ConflictSet) Tier(t ConflictTier) Conflict {
	switch t {
	case TierImmediate:
		return cs.Immediate
	case TierMidTerm:
		return cs.MidTerm
	case TierEndGame:
		return cs.EndGame
	}
	return Conflict{}
}

func (cs *ConflictSet) setTier(t ConflictTier, c Conflict) {
	switch t {
	case TierImmediate:
		cs.Immediate = c
	case TierMidTerm:
		cs.MidTerm = c
	case TierEndGame:
		cs.EndGame = c
	}
}

// WorldRules carries the immutable laws fixed at project creation plus an
// append-only record of rules the prose has violated.
type WorldRules struct {
	Immutable []string `json:"immutable"`
	Violated  []string `json:"violated"`
}

// State is the authoritative story state for one project. It is created when
// world-building completes, mutated only through Merge, and never deleted.
type State struct {
	Characters map[string]CharacterState `json:"characters"`
	Conflicts  ConflictSet               `json:"conflicts"`
	WorldRules WorldRules                `json:"world_rules"`
	Phase      string                    `json:"phase"`
}

// NewState builds an initial state with the immediate conflict active and the
// higher tiers locked.
func NewState(immutableRules []string) *State {
	return &State{
		Characters: make(map[string]CharacterState),
		Conflicts: ConflictSet{
			Immediate: Conflict{Status: ConflictActive},
			MidTerm:   Conflict{Status: ConflictLocked},
			EndGame:   Conflict{Status: ConflictLocked},
		},
		WorldRules: WorldRules{Immutable: immutableRules},
		Phase:      "setup",
	}
}

// Clone returns a deep copy so callers can hold a before/after pair across a
// merge without aliasing.
func (s *State) Clone() *State {
	out := *s
	out.Characters = make(map[string]CharacterState, len(s.Characters))
	for name, cs := range s.Characters {
		out.Characters[name] = cs
	}
	out.WorldRules.Immutable = append([]string(nil), s.WorldRules.Immutable...)
	out.WorldRules.Violated = append([]string(nil), s.WorldRules.Violated...)
	return &out
}
