package matcher

// Combiner merges rule and semantic scores into a confidence in [0, 1].
type Combiner struct {
	ruleWeight      float64
	semanticWeight  float64
	exactRuleWeight float64
}

// NewCombiner creates a combiner from the matching configuration
func NewCombiner(config *MatchingConfig) *Combiner {
	return &Combiner{
		ruleWeight:      config.RuleWeight,
		semanticWeight:  config.SemanticWeight,
		exactRuleWeight: config.ExactRuleWeight,
	}
}

// Weights returns the rule and semantic weights that apply to c.
func (cb *Combiner) Weights(c *Candidate) (float64, float64) {
	if c.Pair.Breakdown.ExactRule() {
		return cb.exactRuleWeight, 1 - cb.exactRuleWeight
	}
	return cb.ruleWeight, cb.semanticWeight
}

// Combine sets the confidence of c from its rule and semantic scores. It does
// not apply any acceptance threshold.
func (cb *Combiner) Combine(c *Candidate) {
	wRule, wSem := cb.Weights(c)

	confidence := wRule*c.Pair.RuleScore + wSem*c.Pair.SemanticScore
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	c.Pair.Confidence = confidence
	c.Pair.Breakdown.SemanticScore = c.Pair.SemanticScore
	c.Pair.Breakdown.RuleWeight = wRule
}
