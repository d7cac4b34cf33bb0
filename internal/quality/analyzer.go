// Package quality scores free-text project updates with deterministic,
// rule-based criteria. The same input always yields the same output; there
// is no model, no randomness, and no network.
package quality

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jordanlewiz/atlas-xray/internal/models"
)

const baseScore = 50

// Result is the structured output of one analysis.
type Result struct {
	Score           int                 `json:"score"`
	Level           models.QualityLevel `json:"level"`
	Reasoning       []string            `json:"reasoning"`
	MissingInfo     []string            `json:"missingInfo"`
	Recommendations []string            `json:"recommendations"`
	Summary         string              `json:"summary"`
}

// Analysis converts the result to its stored form.
func (r *Result) Analysis() models.UpdateAnalysis {
	score := r.Score
	return models.UpdateAnalysis{
		Score:           &score,
		Level:           r.Level,
		Summary:         r.Summary,
		Recommendations: r.Recommendations,
		MissingInfo:     r.MissingInfo,
	}
}

// Analyzer scores update texts against the built-in criteria.
type Analyzer struct{}

// NewAnalyzer returns a new Analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze scores text for the given update type. When updateType is empty,
// state is used as a fallback selector; when neither resolves to a known
// type, all criteria are evaluated. A non-empty selector that matches no
// known type yields the deterministic "can't assess" result (score 0,
// poor) rather than an error.
func (a *Analyzer) Analyze(text string, updateType models.UpdateType, state string) *Result {
	selected, ok := selectCriteria(updateType, state)
	if !ok {
		return cantAssess(updateType, state)
	}

	lower := strings.ToLower(text)
	score := baseScore
	var reasoning, missing, recommendations []string

	for _, c := range selected {
		for _, chk := range c.checks {
			if containsAny(lower, chk.phrases) {
				score += chk.points
				reasoning = append(reasoning, chk.met)
			} else {
				missing = append(missing, chk.missing)
				recommendations = append(recommendations, chk.recommendation)
			}
		}
	}

	// General-quality bonuses.
	if len(text) > 100 {
		score += 10
		reasoning = append(reasoning, "Update has substantial detail.")
	} else {
		recommendations = append(recommendations, "Add more detail; a good update is at least a few sentences.")
	}
	if len(text) > 200 {
		score += 10
		reasoning = append(reasoning, "Update is thorough.")
	}
	if strings.Contains(lower, "because") || strings.Contains(lower, "due to") {
		score += 5
		reasoning = append(reasoning, "Explains causes.")
	}
	if strings.Contains(lower, "next") || strings.Contains(lower, "following") {
		score += 5
		reasoning = append(reasoning, "Mentions next steps.")
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	level := models.LevelForScore(score)
	return &Result{
		Score:           score,
		Level:           level,
		Reasoning:       reasoning,
		MissingInfo:     missing,
		Recommendations: recommendations,
		Summary:         fmt.Sprintf("Score %d/100 (%s). %s", score, level, strings.Join(reasoning, " ")),
	}
}

// selectCriteria resolves which criteria apply. The bool is false only when
// a selector was supplied but not recognized.
func selectCriteria(updateType models.UpdateType, state string) ([]criterion, bool) {
	if updateType != "" {
		if c, ok := criteria[normalizeType(string(updateType))]; ok {
			return []criterion{c}, true
		}
		return nil, false
	}
	if state != "" {
		if c, ok := criteria[normalizeType(state)]; ok {
			return []criterion{c}, true
		}
		return nil, false
	}

	// No selector: evaluate against all criteria, in stable order.
	types := make([]string, 0, len(criteria))
	for t := range criteria {
		types = append(types, string(t))
	}
	sort.Strings(types)

	all := make([]criterion, 0, len(types))
	for _, t := range types {
		all = append(all, criteria[models.UpdateType(t)])
	}
	return all, true
}

// normalizeType maps loose status tags ("Off Track", "off_track") onto the
// canonical update types.
func normalizeType(s string) models.UpdateType {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, " ", "-")
	return models.UpdateType(s)
}

func containsAny(lower string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// cantAssess is the deliberate fallback for unrecognized selectors.
func cantAssess(updateType models.UpdateType, state string) *Result {
	selector := string(updateType)
	if selector == "" {
		selector = state
	}
	summary := fmt.Sprintf("Score 0/100 (poor). Unrecognized update type %q; unable to assess.", selector)
	return &Result{
		Score:           0,
		Level:           models.QualityPoor,
		Reasoning:       []string{fmt.Sprintf("Update type %q is not recognized.", selector)},
		Recommendations: []string{"Use a known status (on-track, off-track, at-risk, paused, pending, done, prioritization)."},
		Summary:         summary,
	}
}
