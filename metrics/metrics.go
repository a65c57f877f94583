// Package metrics implements per-exchange instrumentation: step, decision
// and tool accounting for a single user turn, a deterministic complexity
// score and an advisory classification of the exchange. It is pure data and
// computation with no I/O; the session layer creates one Exchange per
// submitted turn, finalizes it at the terminal outcome and hands the Report
// to the persistent store.
package metrics

import "time"

// Category is the advisory classification of an exchange. It is analysis
// output only and never alters runtime behavior.
type Category string

// Exchange categories.
const (
	CategorySkill    Category = "skill"
	CategorySubAgent Category = "sub-agent"
	CategoryCombo    Category = "combo"
)

// Reusability is a caller-supplied judgement of how reusable the exchange's
// approach is. It only influences classification.
type Reusability string

// Reusability levels.
const (
	ReusabilityLow    Reusability = "low"
	ReusabilityMedium Reusability = "medium"
	ReusabilityHigh   Reusability = "high"
)

// Exchange accumulates instrumentation for one in-flight user turn. It is
// owned by exactly one session and is not safe for concurrent use.
type Exchange struct {
	steps            []string
	decisionPoints   []string
	toolsUsed        map[string]struct{}
	toolOrder        []string
	startedAt        time.Time
	humanCorrections int
	followUps        int
}

// NewExchange starts instrumentation for a turn submitted now.
func NewExchange() *Exchange {
	return &Exchange{toolsUsed: map[string]struct{}{}, startedAt: time.Now()}
}

// RecordStep appends one step description.
func (e *Exchange) RecordStep(desc string) { e.steps = append(e.steps, desc) }

// RecordDecision appends one decision-point description.
func (e *Exchange) RecordDecision(desc string) {
	e.decisionPoints = append(e.decisionPoints, desc)
}

// RecordTool registers a tool invocation. Distinctness is tracked per name;
// repeated invocations of the same tool count once for complexity purposes.
func (e *Exchange) RecordTool(name string) {
	if _, ok := e.toolsUsed[name]; !ok {
		e.toolsUsed[name] = struct{}{}
		e.toolOrder = append(e.toolOrder, name)
	}
}

// RecordCorrection counts a human correction detected upstream.
func (e *Exchange) RecordCorrection() { e.humanCorrections++ }

// RecordFollowUp counts a follow-up question within the exchange.
func (e *Exchange) RecordFollowUp() { e.followUps++ }

// Steps returns the number of recorded steps.
func (e *Exchange) Steps() int { return len(e.steps) }

// DistinctTools returns the number of distinct tools recorded.
func (e *Exchange) DistinctTools() int { return len(e.toolsUsed) }

// Finalize freezes the exchange into an immutable Report. The Exchange must
// not be used afterwards.
func (e *Exchange) Finalize(success bool) *Report {
	r := &Report{
		Steps:            append([]string(nil), e.steps...),
		DecisionPoints:   append([]string(nil), e.decisionPoints...),
		Tools:            append([]string(nil), e.toolOrder...),
		StartedAt:        e.startedAt,
		EndedAt:          time.Now(),
		HumanCorrections: e.humanCorrections,
		FollowUps:        e.followUps,
		Success:          success,
	}
	r.Complexity = ComplexityScore(len(e.steps), len(e.decisionPoints), len(e.toolsUsed))
	return r
}

// Report is the finalized, persisted form of an Exchange.
type Report struct {
	Steps            []string  `json:"steps,omitempty"`
	DecisionPoints   []string  `json:"decision_points,omitempty"`
	Tools            []string  `json:"tools,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	EndedAt          time.Time `json:"ended_at"`
	HumanCorrections int       `json:"human_corrections,omitempty"`
	FollowUps        int       `json:"follow_ups,omitempty"`
	Success          bool      `json:"success"`
	Complexity       int       `json:"complexity"`
}

// Duration returns the wall-clock span of the exchange.
func (r *Report) Duration() time.Duration { return r.EndedAt.Sub(r.StartedAt) }

// ComplexityScore derives a score in [1,5] from step count, decision-point
// count and distinct tool count. It is monotonic non-decreasing in all three
// inputs and capped at 5.
func ComplexityScore(steps, decisionPoints, distinctTools int) int {
	score := 1
	switch {
	case steps > 5:
		score += 2
	case steps > 2:
		score++
	}
	switch {
	case decisionPoints > 3:
		score += 2
	case decisionPoints > 0:
		score++
	}
	if distinctTools > 3 {
		score++
	}
	if score > 5 {
		score = 5
	}
	return score
}

// Classify maps a finalized report to an advisory category:
// skill for short, barely branching, reusable exchanges; combo for
// multi-tool, higher-complexity exchanges; sub-agent otherwise.
func Classify(r *Report, reusability Reusability) Category {
	if reusability == "" {
		reusability = ReusabilityMedium
	}
	if r.Complexity <= 2 && len(r.Steps) <= 2 && len(r.DecisionPoints) <= 1 &&
		(reusability == ReusabilityMedium || reusability == ReusabilityHigh) {
		return CategorySkill
	}
	if len(r.Tools) >= 3 && r.Complexity >= 3 {
		return CategoryCombo
	}
	return CategorySubAgent
}
