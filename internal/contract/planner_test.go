package contract

import (
	"errors"
	"strings"
	"testing"
)

func TestPlanEpisodeOneIsTrivial(t *testing.T) {
	p := NewPlanner(nil)
	c, err := p.Plan(1, RunInfo{StartEpisode: 1, EndEpisode: 10}, nil, nil)
	if err != nil {
		t.Fatalf("episode 1 needs no proposal: %v", err)
	}
	if c.MustHave.NewReveal.Required {
		t.Error("episode 1 must not require a reveal")
	}
	if c.Episode != 1 {
		t.Errorf("episode = %d, want 1", c.Episode)
	}
}

func TestPlanRequiresProposalFromEpisodeTwo(t *testing.T) {
	p := NewPlanner(nil)

	_, err := p.Plan(2, RunInfo{1, 10}, nil, nil)
	if !errors.Is(err, ErrInvalidProposal) {
		t.Fatalf("missing proposal must fail loud, got: %v", err)
	}
}

func TestPlanValidatesProposalFields(t *testing.T) {
	p := NewPlanner(nil)
	tests := []struct {
		name     string
		proposal Proposal
	}{
		{"missing type", Proposal{Scope: ScopeWorld, Summary: "the gate is a living thing"}},
		{"bad type", Proposal{Type: "RUMOR", Scope: ScopeWorld, Summary: "the gate is a living thing"}},
		{"missing scope", Proposal{Type: RevealFact, Summary: "the gate is a living thing"}},
		{"bad scope", Proposal{Type: RevealFact, Scope: "SIDEKICK", Summary: "the gate is a living thing"}},
		{"missing summary", Proposal{Type: RevealFact, Scope: ScopeWorld}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Plan(3, RunInfo{1, 10}, nil, &tt.proposal)
			if !errors.Is(err, ErrInvalidProposal) {
				t.Errorf("expected ErrInvalidProposal, got: %v", err)
			}
		})
	}
}

func TestPlanValidProposal(t *testing.T) {
	p := NewPlanner(nil)
	c, err := p.Plan(3, RunInfo{1, 10}, nil, &Proposal{
		Type:    RevealIdentity,
		Scope:   ScopeAntagonist,
		Summary: "Voss commands the archive guards",
	})
	if err != nil {
		t.Fatalf("valid proposal rejected: %v", err)
	}
	reveal := c.MustHave.NewReveal
	if !reveal.Required {
		t.Error("reveal must be required from episode 2 on")
	}
	if reveal.NoRepeatKey == "" {
		t.Error("no-repeat key must be derived from the summary")
	}
	if reveal.PressureVector != "antagonist_initiative" {
		t.Errorf("antagonist scope binds to antagonist_initiative, got %s", reveal.PressureVector)
	}
	if reveal.CadenceTag != CadenceNormal {
		t.Errorf("episode 3 of [1,10] is not the spike, got %s", reveal.CadenceTag)
	}
}

func TestPlanSpikeCadenceAtRunMidpoint(t *testing.T) {
	p := NewPlanner(nil)
	c, err := p.Plan(5, RunInfo{1, 10}, nil, &Proposal{
		Type:    RevealFact,
		Scope:   ScopeWorld,
		Summary: "the city walls were built facing inward",
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.MustHave.NewReveal.CadenceTag != CadenceSpike {
		t.Errorf("episode 5 of [1,10] is the spike, got %s", c.MustHave.NewReveal.CadenceTag)
	}
	if !c.Optional.CostPaid {
		t.Error("the spike episode asks for a cost beat")
	}
}

func TestPlanNoRepeatRejectsDuplicateSummary(t *testing.T) {
	p := NewPlanner(nil)
	history := []RevealRecord{
		{Episode: 4, Type: RevealFact, Scope: ScopeWorld, NoRepeatKey: NoRepeatKey("the vault was empty all along")},
	}

	// Near-duplicate phrasing collapses to the same key.
	_, err := p.Plan(5, RunInfo{1, 10}, history, &Proposal{
		Type:    RevealInfo,
		Scope:   ScopeWorld,
		Summary: "all along, the vault was empty",
	})
	if !errors.Is(err, ErrInvalidProposal) {
		t.Fatalf("duplicate reveal must fail loud, got: %v", err)
	}
	if err != nil && !strings.Contains(err.Error(), "episode 4") {
		t.Errorf("error should name the conflicting episode, got: %v", err)
	}
}

func TestPlanNoRepeatBiasOnSaturatedWindow(t *testing.T) {
	p := NewPlanner(nil)
	history := []RevealRecord{
		{Episode: 4, Type: RevealFact, Scope: ScopeWorld, NoRepeatKey: "k1"},
		{Episode: 5, Type: RevealFact, Scope: ScopeWorld, NoRepeatKey: "k2"},
		{Episode: 6, Type: RevealFact, Scope: ScopeWorld, NoRepeatKey: "k3"},
	}

	_, err := p.Plan(7, RunInfo{1, 10}, history, &Proposal{
		Type:    RevealFact,
		Scope:   ScopeWorld,
		Summary: "the river runs backward at night",
	})
	if !errors.Is(err, ErrInvalidProposal) {
		t.Fatalf("a window saturated with the same type/scope must be rejected, got: %v", err)
	}

	// A different scope breaks the monotony and passes.
	c, err := p.Plan(7, RunInfo{1, 10}, history, &Proposal{
		Type:    RevealFact,
		Scope:   ScopeAntagonist,
		Summary: "the river runs backward at night",
	})
	if err != nil {
		t.Fatalf("varied scope should pass: %v", err)
	}
	if c.MustHave.NewReveal.Scope != ScopeAntagonist {
		t.Errorf("scope = %s, want ANTAGONIST", c.MustHave.NewReveal.Scope)
	}
}

func TestNoRepeatKeyNormalizes(t *testing.T) {
	a := NoRepeatKey("The vault was EMPTY all along!")
	b := NoRepeatKey("all along, the vault was empty")
	if a != b {
		t.Errorf("near-duplicates must share a key: %q vs %q", a, b)
	}
	if a == NoRepeatKey("the archivist is Voss's daughter") {
		t.Error("distinct reveals must not collide")
	}
}

func TestBuildSlots(t *testing.T) {
	p := NewPlanner(nil)
	c, err := p.Plan(5, RunInfo{1, 10}, nil, &Proposal{
		Type:    RevealRelation,
		Scope:   ScopeProtagonist,
		Summary: "Mara trained under Voss",
	})
	if err != nil {
		t.Fatal(err)
	}

	slots := BuildSlots(c)
	names := make(map[string]Slot, len(slots))
	for _, s := range slots {
		names[s.Name] = s
	}

	reveal, ok := names["reveal"]
	if !ok {
		t.Fatal("contract with a required reveal must produce a reveal slot")
	}
	if !strings.Contains(reveal.Instruction, "Mara trained under Voss") {
		t.Errorf("reveal slot must carry the committed summary, got %q", reveal.Instruction)
	}
	if reveal.MinLength != 500 {
		t.Errorf("spike reveal slot min length = %d, want 500", reveal.MinLength)
	}
	if _, ok := names["pressure"]; !ok {
		t.Error("pressure slot missing")
	}
	if _, ok := names["hook"]; !ok {
		t.Error("hook slot missing")
	}

	// Episode 1 contract yields no reveal slot.
	c1, _ := p.Plan(1, RunInfo{1, 10}, nil, nil)
	for _, s := range BuildSlots(c1) {
		if s.Name == "reveal" {
			t.Error("episode 1 must not get a reveal slot")
		}
	}
}
