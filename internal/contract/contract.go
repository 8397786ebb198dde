// Package contract commits, before any prose is written, to the mandatory
// structural beats of an episode. Prose generation then fills slots against a
// pre-agreed plan instead of writing freely and being checked after the fact.
package contract

// RevealType classifies what kind of story information a reveal discloses.
type RevealType string

const (
	RevealFact     RevealType = "FACT"
	RevealInfo     RevealType = "INFO"
	RevealRelation RevealType = "RELATION"
	RevealIdentity RevealType = "IDENTITY"
)

// RevealScope classifies who the reveal is about.
type RevealScope string

const (
	ScopeProtagonist RevealScope = "PROTAGONIST"
	ScopeAntagonist  RevealScope = "ANTAGONIST"
	ScopeWorld       RevealScope = "WORLD"
)

// CadenceTag schedules deliberate intensity variation across a run.
type CadenceTag string

const (
	CadenceNormal CadenceTag = "NORMAL"
	CadenceSpike  CadenceTag = "SPIKE"
)

// RevealPlan is the mandatory reveal commitment inside a contract.
type RevealPlan struct {
	Required       bool        `json:"required"`
	Type           RevealType  `json:"type,omitempty"`
	Scope          RevealScope `json:"scope,omitempty"`
	Summary        string      `json:"summary,omitempty"`
	CadenceTag     CadenceTag  `json:"cadence_tag,omitempty"`
	NoRepeatKey    string      `json:"no_repeat_key,omitempty"`
	PressureVector string      `json:"pressure_vector,omitempty"`
	PressureHint   string      `json:"pressure_hint,omitempty"`
}

// MustHave groups the non-negotiable beats of an episode.
type MustHave struct {
	NewReveal RevealPlan `json:"new_reveal"`
}

// Optional groups beats the episode may include but is not held to.
type Optional struct {
	ConflictProgressed bool `json:"conflict_progressed,omitempty"`
	CostPaid           bool `json:"cost_paid,omitempty"`
}

// StructureContract is the per-episode plan. Created fresh before content
// generation, never mutated afterward, consumed once by the slot builder.
type StructureContract struct {
	Episode  int      `json:"episode"`
	MustHave MustHave `json:"must_have"`
	Optional Optional `json:"optional"`
}

// RevealRecord is the persisted trace of a committed reveal, consulted by the
// planner's no-repeat window.
type RevealRecord struct {
	Episode     int         `json:"episode"`
	Type        RevealType  `json:"type"`
	Scope       RevealScope `json:"scope"`
	NoRepeatKey string      `json:"no_repeat_key"`
}
