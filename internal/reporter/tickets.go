package reporter

import (
	"fmt"
	"strings"
	"time"

	"ledger-reconciliation-service/internal/models"
	"ledger-reconciliation-service/internal/reconciler"
)

// TicketType groups tickets by the kind of follow-up they need
type TicketType string

const (
	TicketDiscrepancy    TicketType = "discrepancy"
	TicketReviewRequired TicketType = "review_required"
	TicketActionItem     TicketType = "action_item"
)

// Ticket is a follow-up item derived from one discrepancy. Tickets are only
// rendered; nothing is sent to an issue tracker.
type Ticket struct {
	Type            TicketType             `json:"ticket_type"`
	Title           string                 `json:"title"`
	Description     string                 `json:"description"`
	Priority        models.Severity        `json:"priority"`
	DiscrepancyType models.DiscrepancyType `json:"discrepancy_type"`
	RecordIDs       []string               `json:"record_ids"`
	Labels          []string               `json:"labels"`
	DueInDays       int                    `json:"due_in_days"`
	DueDate         string                 `json:"due_date"`
}

var dueDays = map[models.Severity]int{
	models.SeverityCritical: 1,
	models.SeverityHigh:     3,
	models.SeverityMedium:   7,
	models.SeverityLow:      14,
}

// timeNow is replaced in tests
var timeNow = time.Now

// TicketCandidates lists a ticket for every discrepancy at or above
// minSeverity, in discrepancy order.
func TicketCandidates(result *reconciler.Result, minSeverity models.Severity) []*Ticket {
	if result == nil {
		return nil
	}

	today := models.CalendarDate(timeNow())
	tickets := make([]*Ticket, 0)
	for _, d := range result.Discrepancies {
		if !d.Severity.AtLeast(minSeverity) {
			continue
		}

		days := dueDays[d.Severity]
		tickets = append(tickets, &Ticket{
			Type:            ticketType(d.Type),
			Title:           ticketTitle(d),
			Description:     ticketDescription(d, result.RunID),
			Priority:        d.Severity,
			DiscrepancyType: d.Type,
			RecordIDs:       d.RecordIDs(),
			Labels:          ticketLabels(d, result.RunID),
			DueInDays:       days,
			DueDate:         today.AddDate(0, 0, days).Format(models.DateLayout),
		})
	}
	return tickets
}

func ticketType(t models.DiscrepancyType) TicketType {
	switch t {
	case models.DiscrepancyAmountMismatch:
		return TicketDiscrepancy
	case models.DiscrepancyMissingInBank, models.DiscrepancyMissingInLedger:
		return TicketReviewRequired
	default:
		return TicketActionItem
	}
}

func ticketLabels(d *models.Discrepancy, runID string) []string {
	labels := []string{"reconciliation", string(d.Type), d.Severity.String()}
	if len(runID) >= 8 {
		labels = append(labels, "recon-"+runID[:8])
	}
	return labels
}

func typeTitle(t models.DiscrepancyType) string {
	words := strings.Split(string(t), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func ticketTitle(d *models.Discrepancy) string {
	desc := "Transaction"
	amount := ""
	if len(d.Records) > 0 {
		r := d.Records[0]
		if r.Description != "" {
			desc = r.Description
		}
		amount = " " + r.Amount.StringFixed(2)
	}
	if runes := []rune(desc); len(runes) > 30 {
		desc = string(runes[:30])
	}
	return fmt.Sprintf("%s: %s%s", typeTitle(d.Type), desc, amount)
}

func ticketDescription(d *models.Discrepancy, runID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Discrepancy Type: %s\n", typeTitle(d.Type))
	fmt.Fprintf(&b, "Severity: %s\n", strings.ToUpper(d.Severity.String()))
	fmt.Fprintf(&b, "Reconciliation ID: %s\n\n", runID)

	b.WriteString("Records:\n")
	for _, r := range d.Records {
		fmt.Fprintf(&b, "- %s %s %s %s %q\n", r.Source, r.ID, r.Date.Format(models.DateLayout), r.Amount.StringFixed(2), r.Description)
	}

	fmt.Fprintf(&b, "\nIssue:\n%s\n", d.Reason)
	if d.Magnitude != "" {
		fmt.Fprintf(&b, "- Magnitude: %s\n", d.Magnitude)
	}
	if d.LLMExplanation != nil {
		fmt.Fprintf(&b, "\nExplanation:\n%s\n", *d.LLMExplanation)
	}
	if d.SuggestedAction != nil {
		fmt.Fprintf(&b, "\nSuggested Action:\n%s\n", *d.SuggestedAction)
	}
	return b.String()
}
