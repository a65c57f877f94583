package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComplexityScore(t *testing.T) {
	tests := []struct {
		name           string
		steps          int
		decisionPoints int
		distinctTools  int
		expected       int
	}{
		{name: "trivial exchange", steps: 0, decisionPoints: 0, distinctTools: 0, expected: 1},
		{name: "few steps only", steps: 3, decisionPoints: 0, distinctTools: 0, expected: 2},
		{name: "many steps only", steps: 6, decisionPoints: 0, distinctTools: 0, expected: 3},
		{name: "some decisions", steps: 0, decisionPoints: 2, distinctTools: 0, expected: 2},
		{name: "many decisions", steps: 0, decisionPoints: 4, distinctTools: 0, expected: 3},
		{name: "tool heavy", steps: 0, decisionPoints: 0, distinctTools: 4, expected: 2},
		{name: "everything maxed caps at five", steps: 10, decisionPoints: 10, distinctTools: 10, expected: 5},
		{name: "mid range", steps: 4, decisionPoints: 1, distinctTools: 1, expected: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ComplexityScore(tt.steps, tt.decisionPoints, tt.distinctTools))
		})
	}
}

func TestComplexityScoreMonotonicAndClamped(t *testing.T) {
	for steps := 0; steps <= 8; steps++ {
		for dp := 0; dp <= 6; dp++ {
			for tools := 0; tools <= 5; tools++ {
				score := ComplexityScore(steps, dp, tools)
				assert.GreaterOrEqual(t, score, 1)
				assert.LessOrEqual(t, score, 5)
				assert.GreaterOrEqual(t, ComplexityScore(steps+1, dp, tools), score)
				assert.GreaterOrEqual(t, ComplexityScore(steps, dp+1, tools), score)
				assert.GreaterOrEqual(t, ComplexityScore(steps, dp, tools+1), score)
			}
		}
	}
}

func TestExchangeFinalize(t *testing.T) {
	ex := NewExchange()
	ex.RecordStep("tool:search")
	ex.RecordStep("tool:search")
	ex.RecordStep("tool:fetch")
	ex.RecordTool("search")
	ex.RecordTool("search")
	ex.RecordTool("fetch")
	ex.RecordDecision("picked primary source")
	ex.RecordCorrection()
	ex.RecordFollowUp()

	assert.Equal(t, 3, ex.Steps())
	assert.Equal(t, 2, ex.DistinctTools())

	report := ex.Finalize(true)
	require.NotNil(t, report)
	assert.True(t, report.Success)
	assert.Equal(t, []string{"search", "fetch"}, report.Tools)
	assert.Len(t, report.Steps, 3)
	assert.Len(t, report.DecisionPoints, 1)
	assert.Equal(t, 1, report.HumanCorrections)
	assert.Equal(t, 1, report.FollowUps)
	assert.Equal(t, ComplexityScore(3, 1, 2), report.Complexity)
	assert.False(t, report.EndedAt.Before(report.StartedAt))
	assert.GreaterOrEqual(t, report.Duration(), time.Duration(0))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		report      *Report
		reusability Reusability
		expected    Category
	}{
		{
			name:        "short reusable exchange is a skill",
			report:      &Report{Steps: []string{"a"}, Complexity: 1},
			reusability: ReusabilityHigh,
			expected:    CategorySkill,
		},
		{
			name:        "default reusability is medium",
			report:      &Report{Steps: []string{"a"}, Complexity: 2},
			reusability: "",
			expected:    CategorySkill,
		},
		{
			name:        "low reusability blocks skill",
			report:      &Report{Steps: []string{"a"}, Complexity: 1},
			reusability: ReusabilityLow,
			expected:    CategorySubAgent,
		},
		{
			name:        "multi tool complex exchange is a combo",
			report:      &Report{Steps: []string{"a", "b", "c", "d"}, Tools: []string{"x", "y", "z"}, Complexity: 3},
			reusability: ReusabilityMedium,
			expected:    CategoryCombo,
		},
		{
			name:        "many tools but low complexity is not a combo",
			report:      &Report{Steps: []string{"a", "b", "c"}, Tools: []string{"x", "y", "z"}, Complexity: 2},
			reusability: ReusabilityLow,
			expected:    CategorySubAgent,
		},
		{
			name:        "everything else is a sub-agent",
			report:      &Report{Steps: []string{"a", "b", "c", "d"}, DecisionPoints: []string{"d1", "d2"}, Complexity: 4},
			reusability: ReusabilityMedium,
			expected:    CategorySubAgent,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.report, tt.reusability))
		})
	}
}
