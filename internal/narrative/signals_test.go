package narrative

import "testing"

func TestComputeSignalsConflictProgressed(t *testing.T) {
	before := baseState()
	delta := &StateDelta{Conflicts: &ConflictDelta{
		Immediate: &ConflictChange{Status: ConflictResolved},
	}}
	after := Merge(before, delta)

	sig := ComputeSignals(SignalInput{
		EpisodeIndex: 3,
		Delta:        delta,
		Before:       before,
		After:        after,
		Alignment:    &AlignmentResult{Severity: AlignmentPass},
	})
	if !sig.ConflictProgressed {
		t.Error("resolving a tier counts as progress")
	}

	// A no-op episode does not progress.
	sig = ComputeSignals(SignalInput{EpisodeIndex: 3, Before: before, After: before.Clone()})
	if sig.ConflictProgressed {
		t.Error("no transition means no progress")
	}
}

func TestComputeSignalsUnlockCountsAsProgress(t *testing.T) {
	before := baseState()
	before.Conflicts.Immediate.Status = ConflictResolved
	delta := &StateDelta{Conflicts: &ConflictDelta{
		MidTerm: &ConflictChange{Status: ConflictActive},
	}}
	after := Merge(before, delta)

	sig := ComputeSignals(SignalInput{EpisodeIndex: 4, Before: before, After: after})
	if !sig.ConflictProgressed {
		t.Error("unlocking mid_term counts as progress")
	}
}

func TestComputeSignalsCostPaid(t *testing.T) {
	before := baseState()

	sig := ComputeSignals(SignalInput{
		EpisodeIndex: 2,
		Before:       before,
		After:        before.Clone(),
		Facts:        &EpisodeFacts{Injuries: []string{"Mara: sprained wrist"}},
	})
	if !sig.CostPaid {
		t.Error("a recorded injury counts as cost")
	}

	after := Merge(before, &StateDelta{Characters: map[string]CharacterChange{
		"Voss": {Status: CharacterCompromised},
	}})
	sig = ComputeSignals(SignalInput{EpisodeIndex: 2, Before: before, After: after})
	if !sig.CostPaid {
		t.Error("unresolved -> compromised counts as cost")
	}

	sig = ComputeSignals(SignalInput{EpisodeIndex: 2, Before: before, After: before.Clone()})
	if sig.CostPaid {
		t.Error("no injuries and no regression means no cost")
	}
}

func TestComputeSignalsFactReused(t *testing.T) {
	history := []FactsRecord{
		{EpisodeIndex: 3, Facts: EpisodeFacts{Items: []string{"the brass compass"}}},
	}

	sig := ComputeSignals(SignalInput{
		EpisodeIndex: 4,
		History:      history,
		Facts:        &EpisodeFacts{Events: []string{"she follows the brass compass north"}},
	})
	if !sig.FactReused {
		t.Error("substring reuse should be detected")
	}

	// Keyword match after the entry's leading article is stripped.
	sig = ComputeSignals(SignalInput{
		EpisodeIndex: 4,
		History:      history,
		Facts:        &EpisodeFacts{Items: []string{"a cracked brass lens"}},
	})
	if !sig.FactReused {
		t.Error("keyword reuse should be detected")
	}

	// Episode 1 is always false regardless of content.
	sig = ComputeSignals(SignalInput{
		EpisodeIndex: 1,
		History:      history,
		Facts:        &EpisodeFacts{Events: []string{"the brass compass"}},
	})
	if sig.FactReused {
		t.Error("factReused is always false at episode 1")
	}
}

func TestComputeSignalsPromiseAddressed(t *testing.T) {
	history := []FactsRecord{
		{EpisodeIndex: 2, Facts: EpisodeFacts{Promises: []string{"a reckoning with Voss"}}},
	}

	sig := ComputeSignals(SignalInput{
		EpisodeIndex: 3,
		History:      history,
		Facts:        &EpisodeFacts{Events: []string{"the reckoning begins at the gates"}},
	})
	if !sig.PromiseAddressed {
		t.Error("promise keyword in current events should register")
	}

	sig = ComputeSignals(SignalInput{
		EpisodeIndex: 1,
		History:      history,
		Facts:        &EpisodeFacts{Events: []string{"the reckoning begins"}},
	})
	if sig.PromiseAddressed {
		t.Error("promiseAddressed is always false at episode 1")
	}
}

func TestComputeSignalsPromiseHasNoRecencyWindow(t *testing.T) {
	// The promise sits four episodes back, well beyond the fact-reuse window.
	history := []FactsRecord{
		{EpisodeIndex: 1, Facts: EpisodeFacts{Promises: []string{"the lighthouse will burn"}}},
		{EpisodeIndex: 2, Facts: EpisodeFacts{Events: []string{"a quiet crossing"}}},
		{EpisodeIndex: 3, Facts: EpisodeFacts{Events: []string{"storm shelter"}}},
		{EpisodeIndex: 4, Facts: EpisodeFacts{Events: []string{"the road south"}}},
	}

	sig := ComputeSignals(SignalInput{
		EpisodeIndex: 5,
		History:      history,
		Facts:        &EpisodeFacts{Events: []string{"flames climb the lighthouse stair"}},
	})
	if !sig.PromiseAddressed {
		t.Error("a payoff must count no matter how old the promise is")
	}
	if sig.FactReused {
		t.Error("fact reuse stays scoped to the two preceding episodes")
	}
}

func TestComputeSignalsStateCoherent(t *testing.T) {
	tests := []struct {
		name      string
		alignment *AlignmentResult
		want      bool
	}{
		{"pass", &AlignmentResult{Severity: AlignmentPass}, true},
		{"warn still coherent", &AlignmentResult{Severity: AlignmentWarn}, true},
		{"fail", &AlignmentResult{Severity: AlignmentFail}, false},
		{"absent is conservative false", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := ComputeSignals(SignalInput{EpisodeIndex: 2, Alignment: tt.alignment})
			if sig.StateCoherent != tt.want {
				t.Errorf("stateCoherent = %v, want %v", sig.StateCoherent, tt.want)
			}
		})
	}
}

func TestComputeSignalsNewReveal(t *testing.T) {
	sig := ComputeSignals(SignalInput{
		EpisodeIndex: 2,
		Facts:        &EpisodeFacts{Reveals: []string{"the vault was empty"}},
	})
	if !sig.NewReveal {
		t.Error("non-empty reveals sets newReveal")
	}
	sig = ComputeSignals(SignalInput{EpisodeIndex: 2, Facts: &EpisodeFacts{}})
	if sig.NewReveal {
		t.Error("empty reveals leaves newReveal false")
	}
}
