package discrepancy

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"ledger-reconciliation-service/internal/models"

	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"
)

// ambiguous flags rivals of accepted matches: other candidates sharing one
// side of the match whose confidence is within DuplicateMargin of it.
func (c *Classifier) ambiguous(in Input, matches []*models.Match) []*models.Discrepancy {
	if len(in.Candidates) == 0 {
		return nil
	}

	bankByID := indexRecords(in.Bank)
	ledgerByID := indexRecords(in.Ledger)

	byBank := make(map[string][]models.CandidatePair)
	byLedger := make(map[string][]models.CandidatePair)
	for _, p := range in.Candidates {
		byBank[p.BankID] = append(byBank[p.BankID], p)
		byLedger[p.LedgerID] = append(byLedger[p.LedgerID], p)
	}

	var out []*models.Discrepancy
	for _, m := range matches {
		var rivals []models.CandidatePair
		seen := make(map[[2]string]bool)
		for _, group := range [][]models.CandidatePair{byBank[m.Bank.ID], byLedger[m.Ledger.ID]} {
			for _, p := range group {
				key := [2]string{p.BankID, p.LedgerID}
				if seen[key] || (p.BankID == m.Bank.ID && p.LedgerID == m.Ledger.ID) {
					continue
				}
				seen[key] = true
				if p.Confidence < in.MinConfidence || m.Confidence-p.Confidence > c.config.DuplicateMargin {
					continue
				}
				rivals = append(rivals, p)
			}
		}

		sort.Slice(rivals, func(i, j int) bool {
			if rivals[i].BankID != rivals[j].BankID {
				return rivals[i].BankID < rivals[j].BankID
			}
			return rivals[i].LedgerID < rivals[j].LedgerID
		})

		for _, p := range rivals {
			// the rival competes with the matched record on its own side
			rival, peer := ledgerByID[p.LedgerID], m.Ledger
			if p.LedgerID == m.Ledger.ID {
				rival, peer = bankByID[p.BankID], m.Bank
			}
			if rival == nil {
				continue
			}

			total := TotalAmount(peer, rival)
			out = append(out, newDiscrepancy(models.DiscrepancyDuplicateCandidate,
				c.MissingSeverity(total),
				fmt.Sprintf("Ambiguous match: %s record %s scores %.3f against the accepted pair %s/%s (%.3f)",
					strings.ToLower(titleSource(rival.Source)), rival.ID, p.Confidence, m.Bank.ID, m.Ledger.ID, m.Confidence),
				total.StringFixed(2),
				m.Bank, m.Ledger, rival))
		}
	}
	return out
}

// duplicates flags same-source records sharing amount and date whose
// descriptions are near-identical. Each later record is reported against the
// first earlier record it duplicates.
func (c *Classifier) duplicates(records []*models.Record, label string) []*models.Discrepancy {
	byDate := make(map[string][]*models.Record)
	for _, r := range records {
		key := r.Date.Format(models.DateLayout)
		byDate[key] = append(byDate[key], r)
	}

	var out []*models.Discrepancy
	for _, r := range records {
		for _, earlier := range byDate[r.Date.Format(models.DateLayout)] {
			if earlier == r {
				break
			}
			if !earlier.Amount.Equal(r.Amount) {
				continue
			}
			similarity := DescriptionSimilarity(earlier.Description, r.Description)
			if similarity < c.config.DuplicateSimilarity {
				continue
			}

			total := TotalAmount(earlier, r)
			out = append(out, newDiscrepancy(models.DiscrepancyDuplicateCandidate,
				c.MissingSeverity(total),
				fmt.Sprintf("Possible duplicate in %s: %s repeats %s (%s on %s, description similarity %.2f)",
					label, r.ID, earlier.ID, r.Amount.StringFixed(2), r.Date.Format(models.DateLayout), similarity),
				total.StringFixed(2),
				earlier, r))
			break
		}
	}
	return out
}

// DescriptionSimilarity is 1 minus the Levenshtein distance over the longer
// length, computed on trimmed upper-case text. Two empty descriptions are
// identical.
func DescriptionSimilarity(a, b string) float64 {
	a = strings.ToUpper(strings.Join(strings.Fields(a), " "))
	b = strings.ToUpper(strings.Join(strings.Fields(b), " "))

	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

func indexRecords(records []*models.Record) map[string]*models.Record {
	index := make(map[string]*models.Record, len(records))
	for _, r := range records {
		index[r.ID] = r
	}
	return index
}

// TotalAmount sums the absolute amounts of records.
func TotalAmount(records ...*models.Record) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		total = total.Add(r.Amount.Abs())
	}
	return total
}
