package contract

import "fmt"

// Slot is one concrete writing requirement handed to the prose-generation
// step, derived from the contract.
type Slot struct {
	Name        string `json:"name"`
	Instruction string `json:"instruction"`
	MinLength   int    `json:"min_length"`
}

// BuildSlots turns a contract into per-slot writing requirements. The contract
// is consumed once; slots are the only form in which downstream code sees it.
func BuildSlots(c *StructureContract) []Slot {
	slots := []Slot{
		{
			Name:        "opening",
			Instruction: fmt.Sprintf("open episode %d inside an ongoing scene; no recap", c.Episode),
			MinLength:   200,
		},
	}

	reveal := c.MustHave.NewReveal
	if reveal.Required {
		minLen := 300
		if reveal.CadenceTag == CadenceSpike {
			minLen = 500
		}
		slots = append(slots,
			Slot{
				Name: "reveal",
				Instruction: fmt.Sprintf("disclose exactly this %s reveal about the %s: %s",
					reveal.Type, reveal.Scope, reveal.Summary),
				MinLength: minLen,
			},
			Slot{
				Name:        "pressure",
				Instruction: fmt.Sprintf("escalation vector %s: %s", reveal.PressureVector, reveal.PressureHint),
				MinLength:   200,
			},
		)
	}

	if c.Optional.CostPaid {
		slots = append(slots, Slot{
			Name:        "cost",
			Instruction: "someone pays a tangible price this episode",
			MinLength:   150,
		})
	}

	slots = append(slots, Slot{
		Name:        "hook",
		Instruction: "end on an unresolved pull into the next episode",
		MinLength:   100,
	})
	return slots
}
