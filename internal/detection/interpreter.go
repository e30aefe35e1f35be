package detection

import (
	"math"
	"sort"
)

// Prediction is one labeled probability in a classification result
type Prediction struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Result is a calibrated, ranked classification with the two class scores
// the moderation policy cares about pulled out.
type Result struct {
	// Ranked holds one entry per known class, descending by score; ties
	// keep original label order.
	Ranked []Prediction

	// IsFlagged is true when the flagged class outscores the counter class
	IsFlagged bool

	// FlaggedScore and CounterScore are the probabilities of the two named
	// classes, 0.0 when a label is absent from the label set.
	FlaggedScore float64
	CounterScore float64
}

// Interpret turns raw backend scores into a ranked probability distribution.
// When probabilities is false and the score count matches the label count,
// scores are treated as logits and pushed through a numerically stable
// softmax; otherwise they are used as-is. The HTTP backend contract already
// delivers probabilities, so the worker passes probabilities=true; the
// logit path covers backends that expose raw model output.
func Interpret(scores []float64, labels []string, flaggedLabel, counterLabel string, probabilities bool) Result {
	probs := scores
	if !probabilities && len(scores) == len(labels) {
		probs = softmax(scores)
	}

	n := len(labels)
	if len(probs) < n {
		n = len(probs)
	}

	ranked := make([]Prediction, n)
	for i := 0; i < n; i++ {
		ranked[i] = Prediction{Label: labels[i], Score: probs[i]}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	result := Result{Ranked: ranked}
	for _, p := range ranked {
		switch p.Label {
		case flaggedLabel:
			result.FlaggedScore = p.Score
		case counterLabel:
			result.CounterScore = p.Score
		}
	}
	result.IsFlagged = result.FlaggedScore > result.CounterScore

	return result
}

// softmax subtracts the max before exponentiating so large logits cannot
// overflow, then normalizes to a distribution summing to 1.
func softmax(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}

	maxScore := scores[0]
	for _, s := range scores[1:] {
		if s > maxScore {
			maxScore = s
		}
	}

	probs := make([]float64, len(scores))
	var sum float64
	for i, s := range scores {
		probs[i] = math.Exp(s - maxScore)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}

	return probs
}
