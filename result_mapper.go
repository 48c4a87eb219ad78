package main

import (
	"strings"
)

// Label is the per-word pronunciation tag returned by the evaluation server.
type Label string

const (
	LabelPassed  Label = "passed"
	LabelAverage Label = "average"
	LabelFailed  Label = "failed"
)

// Known reports whether l is one of the labels the server documents.
func (l Label) Known() bool {
	switch l {
	case LabelPassed, LabelAverage, LabelFailed:
		return true
	}
	return false
}

// WordResult is one scored word from the evaluation response.
type WordResult struct {
	Phonemes []string `json:"phonemes"`
	Score    float64  `json:"score"`
	Label    Label    `json:"label"`
}

// EvaluationResult is positionally aligned with the TargetPhrase words.
type EvaluationResult []WordResult

// TargetPhrase is the sentence the learner is asked to repeat. Its word list
// is computed once, on construction, and never from the server response.
type TargetPhrase struct {
	text  string
	words []string
}

// NewTargetPhrase tokenizes text on single spaces. Consecutive spaces yield
// empty words, which still take a position in the alignment.
func NewTargetPhrase(text string) TargetPhrase {
	var words []string
	if text != "" {
		words = strings.Split(text, " ")
	}
	return TargetPhrase{text: text, words: words}
}

// Text returns the phrase exactly as given.
func (p TargetPhrase) Text() string { return p.text }

// Words returns a copy of the tokenized phrase.
func (p TargetPhrase) Words() []string {
	out := make([]string, len(p.words))
	copy(out, p.words)
	return out
}

// Len is the number of word positions.
func (p TargetPhrase) Len() int { return len(p.words) }

// Presentation is how a word is rendered for the learner.
type Presentation int

const (
	PresentationNeutral Presentation = iota
	PresentationSuccess
	PresentationCaution
	PresentationAttention
)

func (p Presentation) String() string {
	switch p {
	case PresentationSuccess:
		return "success"
	case PresentationCaution:
		return "caution"
	case PresentationAttention:
		return "attention"
	default:
		return "neutral"
	}
}

// PresentationFor maps a label to its presentation. Unknown and empty labels
// are neutral.
func PresentationFor(l Label) Presentation {
	switch l {
	case LabelPassed:
		return PresentationSuccess
	case LabelAverage:
		return PresentationCaution
	case LabelFailed:
		return PresentationAttention
	default:
		return PresentationNeutral
	}
}

// MappedWord pairs a target word with its result, if the server returned one.
type MappedWord struct {
	Word   string
	Result *WordResult
}

// Presentation is neutral for words without a result.
func (w MappedWord) Presentation() Presentation {
	if w.Result == nil {
		return PresentationNeutral
	}
	return PresentationFor(w.Result.Label)
}

// MapResults aligns result onto target by index. Extra results beyond the
// last word are ignored; missing ones leave Result nil.
func MapResults(target TargetPhrase, result EvaluationResult) []MappedWord {
	out := make([]MappedWord, len(target.words))
	for i, word := range target.words {
		out[i].Word = word
		if i < len(result) {
			r := result[i]
			out[i].Result = &r
		}
	}
	return out
}

// LabelCounts tallies the words in result by known label.
type LabelCounts struct {
	Passed, Average, Failed, Other int
}

// CountLabels tallies result by label.
func CountLabels(result EvaluationResult) LabelCounts {
	var c LabelCounts
	for _, w := range result {
		switch w.Label {
		case LabelPassed:
			c.Passed++
		case LabelAverage:
			c.Average++
		case LabelFailed:
			c.Failed++
		default:
			c.Other++
		}
	}
	return c
}

// AverageScore is the mean word score, or 0 for an empty result.
func AverageScore(result EvaluationResult) float64 {
	if len(result) == 0 {
		return 0
	}
	var sum float64
	for _, w := range result {
		sum += w.Score
	}
	return sum / float64(len(result))
}
