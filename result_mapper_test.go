package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapResultsPositional(t *testing.T) {
	target := NewTargetPhrase("a b c")
	result := EvaluationResult{
		{Phonemes: []string{"ə"}, Score: -0.1, Label: LabelPassed},
		{Phonemes: []string{"b", "iː"}, Score: -0.9, Label: LabelFailed},
	}

	got := MapResults(target, result)

	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Word)
	require.NotNil(t, got[0].Result)
	assert.Equal(t, LabelPassed, got[0].Result.Label)
	assert.Equal(t, "b", got[1].Word)
	require.NotNil(t, got[1].Result)
	assert.Equal(t, LabelFailed, got[1].Result.Label)
	assert.Equal(t, []string{"b", "iː"}, got[1].Result.Phonemes)
	assert.Equal(t, "c", got[2].Word)
	assert.Nil(t, got[2].Result)
	assert.Equal(t, PresentationNeutral, got[2].Presentation())
}

func TestMapResultsIgnoresExtraResults(t *testing.T) {
	got := MapResults(NewTargetPhrase("hello"), EvaluationResult{
		{Label: LabelAverage},
		{Label: LabelPassed},
	})

	require.Len(t, got, 1)
	assert.Equal(t, PresentationCaution, got[0].Presentation())
}

func TestMapResultsDoesNotAliasInput(t *testing.T) {
	result := EvaluationResult{{Label: LabelPassed, Score: -0.2}}
	got := MapResults(NewTargetPhrase("x"), result)

	result[0].Label = LabelFailed
	assert.Equal(t, LabelPassed, got[0].Result.Label)
}

func TestPresentationForIsTotal(t *testing.T) {
	cases := map[Label]Presentation{
		LabelPassed:  PresentationSuccess,
		LabelAverage: PresentationCaution,
		LabelFailed:  PresentationAttention,
		"":           PresentationNeutral,
		"PASSED":     PresentationNeutral,
		"excellent":  PresentationNeutral,
	}
	for label, want := range cases {
		assert.Equal(t, want, PresentationFor(label), "label %q", label)
	}
}

func TestTargetPhraseTokenization(t *testing.T) {
	p := NewTargetPhrase("Tomorrow I will go to the school and I will study.")
	assert.Equal(t, 11, p.Len())
	assert.Equal(t, "study.", p.Words()[10])

	// Single-space split: a double space leaves an empty position.
	assert.Equal(t, []string{"a", "", "b"}, NewTargetPhrase("a  b").Words())
	assert.Equal(t, 0, NewTargetPhrase("").Len())
}

func TestTargetPhraseWordsIsCopy(t *testing.T) {
	p := NewTargetPhrase("one two")
	w := p.Words()
	w[0] = "changed"
	assert.Equal(t, "one", p.Words()[0])
}

func TestCountLabelsAndAverage(t *testing.T) {
	result := EvaluationResult{
		{Score: -0.2, Label: LabelPassed},
		{Score: -0.5, Label: LabelAverage},
		{Score: -1.1, Label: LabelFailed},
		{Score: -0.2, Label: "unknown"},
	}

	assert.Equal(t, LabelCounts{Passed: 1, Average: 1, Failed: 1, Other: 1}, CountLabels(result))
	assert.InDelta(t, -0.5, AverageScore(result), 1e-9)
	assert.Zero(t, AverageScore(nil))
}
