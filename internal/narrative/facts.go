package narrative

import (
	"fmt"
	"log/slog"
	"strings"
)

const (
	// MaxFactsPerCategory caps each facts list.
	MaxFactsPerCategory = 3
	// MaxFactLength caps each individual entry, in characters.
	MaxFactLength = 80
	// continuityWindow is how many preceding episodes the continuity pass
	// examines.
	continuityWindow = 2
)

// EpisodeFacts is the small per-episode ledger of things the prose committed
// to: what happened, what was revealed, what objects appeared, who got hurt,
// and what was promised to the audience.
type EpisodeFacts struct {
	Events   []string `json:"events"`
	Reveals  []string `json:"reveals"`
	Items    []string `json:"items"`
	Injuries []string `json:"injuries"`
	Promises []string `json:"promises"`
}

// categories returns the five fact lists with their wire names, in a stable
// order for error reporting.
func (f *EpisodeFacts) categories() []struct {
	Name    string
	Entries []string
} {
	return []struct {
		Name    string
		Entries []string
	}{
		{"events", f.Events},
		{"reveals", f.Reveals},
		{"items", f.Items},
		{"injuries", f.Injuries},
		{"promises", f.Promises},
	}
}

// FactsRecord is one accepted episode's facts, appended to the per-project
// ledger. Records are immutable: never edited, never removed.
type FactsRecord struct {
	EpisodeIndex int          `json:"episode_index"`
	Facts        EpisodeFacts `json:"facts"`
}

// ContinuityRule checks the current episode's facts against recent history and
// reports human-readable issues. Implementations are heuristic today; the
// interface exists so stricter (e.g. semantic) checks can replace them without
// touching the validator or orchestrator call sites.
type ContinuityRule interface {
	Name() string
	Check(history []FactsRecord, current *EpisodeFacts) []string
}

// FactsValidator runs the structural pass and the registered continuity rules.
type FactsValidator struct {
	rules    []ContinuityRule
	observed []ContinuityRule
	logger   *slog.Logger
}

// NewFactsValidator builds a validator with the default rule set: injury
// contradiction and reveal denial enforced, item reuse observe-only.
func NewFactsValidator(logger *slog.Logger) *FactsValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &FactsValidator{
		rules:    []ContinuityRule{injuryContinuityRule{}, revealDenialRule{}},
		observed: []ContinuityRule{itemReuseRule{}},
		logger:   logger.With("component", "facts_validator"),
	}
}

// Validate runs the structural pass always, and the continuity pass when the
// episode has predecessors and a facts history exists. A nil current is valid:
// episodes generated before this ledger existed carry no facts.
func (v *FactsValidator) Validate(current *EpisodeFacts, episodeIndex int, history []FactsRecord) Result {
	res := Result{Valid: true}
	if current == nil {
		return res
	}

	for _, cat := range current.categories() {
		if len(cat.Entries) > MaxFactsPerCategory {
			res.addError("facts category %s has %d entries; at most %d are allowed",
				cat.Name, len(cat.Entries), MaxFactsPerCategory)
		}
		for i, entry := range cat.Entries {
			if n := len([]rune(entry)); n > MaxFactLength {
				res.addError("facts category %s entry %d is %d characters; at most %d are allowed",
					cat.Name, i+1, n, MaxFactLength)
			}
		}
	}

	if episodeIndex <= 1 || len(history) == 0 {
		return res
	}

	window := recentWindow(history, continuityWindow)
	for _, rule := range v.rules {
		for _, issue := range rule.Check(window, current) {
			res.addError("%s", issue)
		}
	}
	for _, rule := range v.observed {
		if issues := rule.Check(window, current); len(issues) > 0 {
			// Observe-only: computed and logged, deliberately not an error.
			v.logger.Debug("continuity observation",
				"rule", rule.Name(),
				"episode", episodeIndex,
				"issues", issues)
		}
	}

	return res
}

// recentWindow returns the last n records, oldest first.
func recentWindow(history []FactsRecord, n int) []FactsRecord {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

var severeKeywords = []string{"severe", "critical", "grave", "life-threatening", "mortal"}
var recoveryKeywords = []string{"recover", "treated", "treatment", "healing", "bandage", "mended", "stabilized"}
var unharmedKeywords = []string{"unharmed", "healed", "fully recovered", "uninjured", "fine again"}
var denialKeywords = []string{"deny", "denies", "denied", "overturn", "retract", "mistaken", "is not"}

// injuryContinuityRule flags an episode that declares a character unharmed
// when a recent episode recorded a severe injury for them, with no recovery or
// continued-injury mention in between.
type injuryContinuityRule struct{}

func (injuryContinuityRule) Name() string { return "injury_contradiction" }

func (injuryContinuityRule) Check(history []FactsRecord, current *EpisodeFacts) []string {
	var issues []string
	currentText := strings.ToLower(strings.Join(joinAll(current), " "))

	for _, rec := range history {
		for _, injury := range rec.Facts.Injuries {
			lower := strings.ToLower(injury)
			if !containsAny(lower, severeKeywords) {
				continue
			}
			subject := injurySubject(injury)
			if subject == "" {
				continue
			}
			subjLower := strings.ToLower(subject)
			if !strings.Contains(currentText, subjLower) {
				continue
			}
			if mentionsNear(currentText, subjLower, recoveryKeywords) ||
				mentionsNear(currentText, subjLower, severeKeywords) {
				continue
			}
			if mentionsNear(currentText, subjLower, unharmedKeywords) {
				issues = append(issues, fmt.Sprintf(
					"injury contradiction for %q: episode %d recorded %q but the current episode claims they are unharmed",
					subject, rec.EpisodeIndex, injury))
			}
		}
	}
	return issues
}

// injurySubject extracts the character a recorded injury is about. Entries
// follow the "Name: description" convention; the part before the first colon
// is the subject.
func injurySubject(entry string) string {
	if idx := strings.IndexAny(entry, ":："); idx > 0 {
		return strings.TrimSpace(entry[:idx])
	}
	fields := strings.Fields(entry)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// revealDenialRule flags denial or reversal language in the current events
// whenever any prior reveal exists. It does not verify the denial targets that
// specific reveal, so it can fire spuriously; that looseness is intentional
// and must not be tightened without revisiting every recorded run.
type revealDenialRule struct{}

func (revealDenialRule) Name() string { return "reveal_denial" }

func (revealDenialRule) Check(history []FactsRecord, current *EpisodeFacts) []string {
	var priorReveals []string
	var priorEpisode int
	for _, rec := range history {
		if len(rec.Facts.Reveals) > 0 {
			priorReveals = rec.Facts.Reveals
			priorEpisode = rec.EpisodeIndex
		}
	}
	if len(priorReveals) == 0 {
		return nil
	}

	var issues []string
	for _, event := range current.Events {
		if containsAny(strings.ToLower(event), denialKeywords) {
			issues = append(issues, fmt.Sprintf(
				"reveal denial: event %q contradicts reveal %q from episode %d; reveals are irreversible",
				event, priorReveals[0], priorEpisode))
		}
	}
	return issues
}

// itemReuseRule detects whether the current episode reuses an item introduced
// recently. Observe-only for now: the validator logs its findings and does not
// gate acceptance.
type itemReuseRule struct{}

func (itemReuseRule) Name() string { return "item_reuse" }

func (itemReuseRule) Check(history []FactsRecord, current *EpisodeFacts) []string {
	var issues []string
	currentText := strings.ToLower(strings.Join(append(append([]string{}, current.Items...), current.Events...), " "))

	for _, rec := range history {
		for _, item := range rec.Facts.Items {
			key := Keyword(item)
			if key == "" {
				continue
			}
			if strings.Contains(currentText, strings.ToLower(key)) {
				issues = append(issues, fmt.Sprintf("item %q from episode %d reused", item, rec.EpisodeIndex))
			}
		}
	}
	return issues
}

// Keyword derives a matchable keyword from a fact entry by stripping common
// leading articles and determiners and taking the first significant token.
func Keyword(entry string) string {
	fields := strings.Fields(strings.ToLower(entry))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()")
		switch f {
		case "the", "a", "an", "his", "her", "their", "this", "that", "to", "of":
			continue
		}
		if len(f) >= 3 {
			return f
		}
	}
	return ""
}

func joinAll(f *EpisodeFacts) []string {
	out := make([]string, 0, 15)
	for _, cat := range f.categories() {
		out = append(out, cat.Entries...)
	}
	return out
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// mentionsNear reports whether any keyword appears anywhere in text that also
// mentions the subject. The whole episode is the proximity window; entries are
// short enough that finer granularity has not been needed.
func mentionsNear(text, subject string, keywords []string) bool {
	if !strings.Contains(text, subject) {
		return false
	}
	return containsAny(text, keywords)
}
