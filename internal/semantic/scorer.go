package semantic

import (
	"context"
	"fmt"

	"ledger-reconciliation-service/pkg/logger"
)

// Pair is one candidate pairing to score semantically.
type Pair struct {
	BankID     string
	BankText   string
	LedgerID   string
	LedgerText string
}

// Score is the semantic verdict for one Pair. Kept is false when the ledger
// record fell outside the bank record's top-K neighbours.
type Score struct {
	Value      float64
	Similarity float64
	Rank       int
	Kept       bool
}

// Scorer embeds both sides once, builds one index over the ledger side and
// queries it for every bank record, restricted to that record's candidates.
type Scorer struct {
	embedder Embedder
	builder  IndexBuilder
	topK     int
	logger   logger.Logger
}

// NewScorer creates a semantic scorer. topK <= 0 keeps every candidate.
func NewScorer(embedder Embedder, builder IndexBuilder, topK int) *Scorer {
	if builder == nil {
		builder = FlatIndexBuilder{}
	}
	return &Scorer{
		embedder: embedder,
		builder:  builder,
		topK:     topK,
		logger:   logger.GetGlobalLogger().WithComponent("semantic_scorer"),
	}
}

// SimilarityToScore maps a cosine similarity in [-1, 1] onto [0, 1].
func SimilarityToScore(sim float64) float64 {
	score := (sim + 1) / 2
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Score returns one Score per pair, in input order.
func (s *Scorer) Score(ctx context.Context, pairs []Pair) ([]Score, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	bankText := make(map[string]string)
	ledgerText := make(map[string]string)
	var bankOrder, ledgerOrder []string
	byBank := make(map[string][]int)

	for i, p := range pairs {
		if _, ok := bankText[p.BankID]; !ok {
			bankText[p.BankID] = p.BankText
			bankOrder = append(bankOrder, p.BankID)
		}
		if _, ok := ledgerText[p.LedgerID]; !ok {
			ledgerText[p.LedgerID] = p.LedgerText
			ledgerOrder = append(ledgerOrder, p.LedgerID)
		}
		byBank[p.BankID] = append(byBank[p.BankID], i)
	}

	bankVecs, err := s.embedSide(ctx, bankOrder, bankText)
	if err != nil {
		return nil, fmt.Errorf("embed bank descriptions: %w", err)
	}
	ledgerVecs, err := s.embedSide(ctx, ledgerOrder, ledgerText)
	if err != nil {
		return nil, fmt.Errorf("embed ledger descriptions: %w", err)
	}

	items := make([]Item, len(ledgerOrder))
	for i, id := range ledgerOrder {
		items[i] = Item{ID: id, Vector: ledgerVecs[id]}
	}
	index, err := s.builder.Build(items)
	if err != nil {
		return nil, fmt.Errorf("build ledger index: %w", err)
	}

	scores := make([]Score, len(pairs))
	dropped := 0

	for _, bankID := range bankOrder {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		idxs := byBank[bankID]
		allowed := make(map[string]struct{}, len(idxs))
		for _, i := range idxs {
			allowed[pairs[i].LedgerID] = struct{}{}
		}

		k := len(allowed)
		if s.topK > 0 && k > s.topK {
			k = s.topK
		}

		neighbors, err := index.Search(bankVecs[bankID], k, func(id string) bool {
			_, ok := allowed[id]
			return ok
		})
		if err != nil {
			return nil, fmt.Errorf("search neighbours of %s: %w", bankID, err)
		}

		found := make(map[string]int, len(neighbors))
		for rank, n := range neighbors {
			found[n.ID] = rank
		}

		for _, i := range idxs {
			rank, ok := found[pairs[i].LedgerID]
			if !ok {
				dropped++
				continue
			}
			sim := neighbors[rank].Similarity
			scores[i] = Score{
				Value:      SimilarityToScore(sim),
				Similarity: sim,
				Rank:       rank + 1,
				Kept:       true,
			}
		}
	}

	s.logger.WithFields(logger.Fields{
		"pairs":         len(pairs),
		"bank_texts":    len(bankOrder),
		"ledger_texts":  len(ledgerOrder),
		"dropped_top_k": dropped,
	}).Debug("Semantic scoring finished")

	return scores, nil
}

// embedSide embeds the distinct texts of one side in a single call.
func (s *Scorer) embedSide(ctx context.Context, ids []string, textByID map[string]string) (map[string][]float32, error) {
	var texts []string
	position := make(map[string]int)
	for _, id := range ids {
		t := textByID[id]
		if _, ok := position[t]; !ok {
			position[t] = len(texts)
			texts = append(texts, t)
		}
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}

	out := make(map[string][]float32, len(ids))
	for _, id := range ids {
		out[id] = vectors[position[textByID[id]]]
	}
	return out, nil
}
