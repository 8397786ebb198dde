package narrative

// Merge applies a validated delta to a state and returns the next state. It is
// a pure function: the input state is not modified, and fields absent from the
// delta keep their previous value. Merge performs no validation; callers must
// run ValidateDelta first and only merge deltas it accepted.
func Merge(state *State, delta *StateDelta) *State {
	next := state.Clone()
	if delta == nil {
		return next
	}

	if delta.Conflicts != nil {
		for _, tier := range []ConflictTier{TierImmediate, TierMidTerm, TierEndGame} {
			change := delta.Conflicts.change(tier)
			if change == nil {
				continue
			}
			c := next.Conflicts.Tier(tier)
			c.Status = change.Status
			next.Conflicts.setTier(tier, c)
		}
	}

	for name, change := range delta.Characters {
		cs := next.Characters[name]
		cs.Status = change.Status
		next.Characters[name] = cs
	}

	// Violations only ever accumulate; the immutable rule list is never
	// touched by a merge.
	next.WorldRules.Violated = append(next.WorldRules.Violated, delta.WorldRuleViolations...)

	return next
}
