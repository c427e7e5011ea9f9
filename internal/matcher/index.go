package matcher

import (
	"sort"
	"time"

	"ledger-reconciliation-service/internal/models"
)

// DateIndex keeps records sorted by (date, id) so that a date window can be
// located with a binary search and scanned forward.
type DateIndex struct {
	records []*models.Record
}

// NewDateIndex creates a date index over a copy of records
func NewDateIndex(records []*models.Record) *DateIndex {
	sorted := make([]*models.Record, len(records))
	copy(sorted, records)

	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Date.Equal(sorted[j].Date) {
			return sorted[i].Date.Before(sorted[j].Date)
		}
		return sorted[i].ID < sorted[j].ID
	})

	return &DateIndex{records: sorted}
}

// Len returns the number of indexed records
func (idx *DateIndex) Len() int {
	return len(idx.records)
}

// Range returns the records dated within [from, to], inclusive, in (date, id) order.
// The returned slice aliases the index and must not be modified.
func (idx *DateIndex) Range(from, to time.Time) []*models.Record {
	if to.Before(from) {
		return nil
	}

	start := sort.Search(len(idx.records), func(i int) bool {
		return !idx.records[i].Date.Before(from)
	})

	end := start
	for end < len(idx.records) && !idx.records[end].Date.After(to) {
		end++
	}

	return idx.records[start:end]
}

// Candidate is one bank/ledger pairing flowing through the scoring stages.
type Candidate struct {
	Bank   *models.Record
	Ledger *models.Record
	Pair   models.CandidatePair
}

// FilterCandidates returns every bank/ledger pair whose dates are at most
// windowDays apart. Pairs are ordered by bank input order, then by ledger
// (date, id). The function has no side effects.
func FilterCandidates(bank, ledger []*models.Record, windowDays int) []Candidate {
	if windowDays < 0 || len(bank) == 0 || len(ledger) == 0 {
		return nil
	}

	index := NewDateIndex(ledger)
	var candidates []Candidate

	for _, b := range bank {
		from := b.Date.AddDate(0, 0, -windowDays)
		to := b.Date.AddDate(0, 0, windowDays)

		for _, l := range index.Range(from, to) {
			candidates = append(candidates, Candidate{
				Bank:   b,
				Ledger: l,
				Pair: models.CandidatePair{
					BankID:   b.ID,
					LedgerID: l.ID,
				},
			})
		}
	}

	return candidates
}
