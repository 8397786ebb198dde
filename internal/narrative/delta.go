package narrative

import "fmt"

// StateDelta is the partial mutation a generation attempt proposes against the
// current State. Only the fields present are applied; everything omitted is
// carried over untouched. A delta lives for exactly one attempt: it is
// validated, merged, and discarded.
type StateDelta struct {
	Conflicts           *ConflictDelta             `json:"conflicts,omitempty"`
	Characters          map[string]CharacterChange `json:"characters,omitempty"`
	WorldRuleViolations []string                   `json:"world_rule_violations,omitempty"`
}

// ConflictDelta carries optional status changes per tier.
type ConflictDelta struct {
	Immediate *ConflictChange `json:"immediate,omitempty"`
	MidTerm   *ConflictChange `json:"mid_term,omitempty"`
	EndGame   *ConflictChange `json:"end_game,omitempty"`
}

func (cd *ConflictDelta) change(t ConflictTier) *ConflictChange {
	switch t {
	case TierImmediate:
		return cd.Immediate
	case TierMidTerm:
		return cd.MidTerm
	case TierEndGame:
		return cd.EndGame
	}
	return nil
}

// ConflictChange proposes a new status for one conflict tier.
type ConflictChange struct {
	Status ConflictStatus `json:"status"`
}

// CharacterChange proposes a new status for one character.
type CharacterChange struct {
	Status CharacterStatus `json:"status"`
}

// Result collects the outcome of a soft validation pass. Every violation is
// reported; validation never stops at the first error.
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

func (r *Result) addError(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// tierBelow maps each unlockable tier to the tier that must be resolved first.
var tierBelow = map[ConflictTier]ConflictTier{
	TierMidTerm: TierImmediate,
	TierEndGame: TierMidTerm,
}

// ValidateDelta checks a proposed delta against the state that episodes
// 1..episode-1 already produced. A nil delta is a no-op and always valid.
// The merge must never run on a delta that failed here.
func ValidateDelta(delta *StateDelta, state *State, episode int) Result {
	res := Result{Valid: true}
	if delta == nil {
		return res
	}

	if delta.Conflicts != nil {
		for _, tier := range []ConflictTier{TierImmediate, TierMidTerm, TierEndGame} {
			change := delta.Conflicts.change(tier)
			if change == nil {
				continue
			}
			validateConflictChange(&res, state, tier, change.Status, episode)
		}
	}

	for name, change := range delta.Characters {
		current := CharacterUnresolved
		if cs, ok := state.Characters[name]; ok && cs.Status != "" {
			current = cs.Status
		}
		if current == CharacterUnresolved && change.Status == CharacterResolved {
			res.addError("episode %d: character %q may not jump from %s to %s without an intermediate cost state (injured or compromised)",
				episode, name, CharacterUnresolved, CharacterResolved)
		}
	}

	return res
}

func validateConflictChange(res *Result, state *State, tier ConflictTier, proposed ConflictStatus, episode int) {
	current := state.Conflicts.Tier(tier).Status

	switch proposed {
	case ConflictActive:
		below, ok := tierBelow[tier]
		if !ok {
			return
		}
		if state.Conflicts.Tier(below).Status != ConflictResolved {
			res.addError("episode %d: conflict %s cannot become active while %s is not resolved (currently %s)",
				episode, tier, below, state.Conflicts.Tier(below).Status)
		}
	case ConflictResolved:
		if current != ConflictActive {
			res.addError("episode %d: conflict %s cannot resolve from %s; only an active conflict may resolve",
				episode, tier, current)
		}
	}
}
