package orchestrator

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/vampirenirmal/serialist/internal/narrative"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func factsFor(ep int) *narrative.EpisodeFacts {
	return &narrative.EpisodeFacts{
		Events: []string{fmt.Sprintf("the courier reaches waypoint%d", ep)},
	}
}

func alignmentPass() *narrative.AlignmentResult {
	return &narrative.AlignmentResult{Severity: narrative.AlignmentPass}
}

// invalidDelta activates end_game while mid_term is still locked, which the
// delta validator always rejects.
func invalidDelta() *narrative.StateDelta {
	return &narrative.StateDelta{
		Conflicts: &narrative.ConflictDelta{
			EndGame: &narrative.ConflictChange{Status: narrative.ConflictActive},
		},
	}
}
