package narrative

import "strings"

// AlignmentSeverity grades how well a draft matched its structure contract,
// as judged by the external alignment check.
type AlignmentSeverity string

const (
	AlignmentPass AlignmentSeverity = "PASS"
	AlignmentWarn AlignmentSeverity = "WARN"
	AlignmentFail AlignmentSeverity = "FAIL"
)

// AlignmentResult is the external alignment check's verdict for one episode.
type AlignmentResult struct {
	Severity AlignmentSeverity `json:"severity"`
	Notes    []string          `json:"notes,omitempty"`
}

// QualitySignals are six observation-only booleans computed once per accepted
// episode. They feed analytics and nothing else: acceptance, retries, and
// generation never read them.
type QualitySignals struct {
	ConflictProgressed bool `json:"conflict_progressed"`
	CostPaid           bool `json:"cost_paid"`
	FactReused         bool `json:"fact_reused"`
	NewReveal          bool `json:"new_reveal"`
	PromiseAddressed   bool `json:"promise_addressed"`
	StateCoherent      bool `json:"state_coherent"`
}

// SignalInput bundles everything the calculator reads. All fields are
// consumed read-only.
type SignalInput struct {
	EpisodeIndex int
	Delta        *StateDelta
	Before       *State
	After        *State
	Facts        *EpisodeFacts
	Alignment    *AlignmentResult
	History      []FactsRecord
}

// ComputeSignals derives the six quality signals for one accepted episode.
func ComputeSignals(in SignalInput) QualitySignals {
	var facts EpisodeFacts
	if in.Facts != nil {
		facts = *in.Facts
	}
	window := recentWindow(in.History, continuityWindow)

	return QualitySignals{
		ConflictProgressed: conflictProgressed(in.Before, in.After),
		CostPaid:           costPaid(in.Before, in.After, &facts),
		FactReused:         in.EpisodeIndex > 1 && factReused(window, &facts),
		NewReveal:          len(facts.Reveals) > 0,
		PromiseAddressed:   in.EpisodeIndex > 1 && promiseAddressed(in.History, &facts),
		StateCoherent:      in.Alignment != nil && in.Alignment.Severity != AlignmentFail,
	}
}

// conflictProgressed is true when any tier made an allowed move this episode:
// an unlock of mid_term or end_game, or a resolution of any tier.
func conflictProgressed(before, after *State) bool {
	if before == nil || after == nil {
		return false
	}
	for _, tier := range []ConflictTier{TierImmediate, TierMidTerm, TierEndGame} {
		prev := before.Conflicts.Tier(tier).Status
		next := after.Conflicts.Tier(tier).Status
		if prev == next {
			continue
		}
		if next == ConflictResolved {
			return true
		}
		if next == ConflictActive && (tier == TierMidTerm || tier == TierEndGame) {
			return true
		}
	}
	return false
}

// costPaid is true when the episode recorded an injury or a character
// regressed from unresolved into a cost state.
func costPaid(before, after *State, facts *EpisodeFacts) bool {
	if len(facts.Injuries) > 0 {
		return true
	}
	if before == nil || after == nil {
		return false
	}
	for name, next := range after.Characters {
		prev := CharacterUnresolved
		if cs, ok := before.Characters[name]; ok && cs.Status != "" {
			prev = cs.Status
		}
		if prev == CharacterUnresolved &&
			(next.Status == CharacterInjured || next.Status == CharacterCompromised) {
			return true
		}
	}
	return false
}

// factReused is true when a current item or event references an item or
// reveal from the two preceding episodes, by exact substring or by the
// entry's stripped-prefix keyword.
func factReused(window []FactsRecord, facts *EpisodeFacts) bool {
	current := append(append([]string{}, facts.Items...), facts.Events...)
	for _, rec := range window {
		prior := append(append([]string{}, rec.Facts.Items...), rec.Facts.Reveals...)
		for _, p := range prior {
			for _, c := range current {
				if references(c, p) {
					return true
				}
			}
		}
	}
	return false
}

func references(current, prior string) bool {
	cl := strings.ToLower(current)
	pl := strings.ToLower(prior)
	if strings.Contains(cl, pl) {
		return true
	}
	if key := Keyword(prior); key != "" && strings.Contains(cl, key) {
		return true
	}
	return false
}

// promiseAddressed is true when any current event, item, or reveal picks up a
// keyword from a previously recorded promise. Unlike fact reuse, promises
// have no recency window: a setup from the first episode may pay off any
// number of episodes later.
func promiseAddressed(history []FactsRecord, facts *EpisodeFacts) bool {
	current := strings.ToLower(strings.Join(
		append(append(append([]string{}, facts.Events...), facts.Items...), facts.Reveals...), " "))
	for _, rec := range history {
		for _, promise := range rec.Facts.Promises {
			if key := Keyword(promise); key != "" && strings.Contains(current, key) {
				return true
			}
		}
	}
	return false
}
