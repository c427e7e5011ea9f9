package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Scenario describes one generated bank/ledger pair of files
type Scenario struct {
	Name        string
	Description string
	Count       int
	MatchRatio  float64
	AmountDrift int64 // largest drift in cents applied to matched ledger counterparts
	DateDrift   int   // largest drift in days applied to matched ledger counterparts
	Duplicates  int   // ledger counterparts written twice
}

var scenarios = []Scenario{
	{Name: "basic", Description: "Exact counterparts for most bank records", Count: 50, MatchRatio: 0.85},
	{Name: "drift", Description: "Counterparts with small amount and date drift", Count: 200, MatchRatio: 0.9, AmountDrift: 300, DateDrift: 3},
	{Name: "mismatch", Description: "Counterparts drifting close to the default tolerances", Count: 100, MatchRatio: 1, AmountDrift: 499, DateDrift: 6},
	{Name: "duplicates", Description: "Ledger entries posted twice", Count: 100, MatchRatio: 0.9, Duplicates: 10},
	{Name: "unmatched", Description: "Bank and ledger with no counterparts", Count: 100, MatchRatio: 0},
	{Name: "performance", Description: "Large drifted dataset for load testing", Count: 10000, MatchRatio: 0.85, AmountDrift: 200, DateDrift: 2},
}

// Expected lists the pairs a generated scenario was built from
type Expected struct {
	Scenario   string            `json:"scenario"`
	Seed       int64             `json:"seed"`
	Pairs      map[string]string `json:"pairs"`
	Duplicates []string          `json:"duplicates,omitempty"`
}

type entry struct {
	id          string
	date        time.Time
	description string
	amount      decimal.Decimal
}

var merchants = []struct {
	bank, ledger string
}{
	{"UBER *TRIP HELP.UBER.COM", "Uber rides"},
	{"AMZN MKTP US*2K4", "Amazon marketplace order"},
	{"STARBUCKS STORE 01123", "Starbucks coffee"},
	{"SHELL OIL 57442", "Fuel - Shell"},
	{"ACH PAYROLL ACME CORP", "Payroll Acme Corp"},
	{"RENT PAYMENT PROPERTY MGMT", "Office rent"},
	{"AWS EMEA AWS.AMAZON.CO", "AWS cloud services"},
	{"OFFICE DEPOT #1191", "Office supplies"},
	{"DELTA AIR 0062341", "Delta flight"},
	{"CITY OF SPRINGFIELD WATER", "Water utility"},
	{"STRIPE TRANSFER", "Customer payments payout"},
	{"ADOBE *CREATIVE CLOUD", "Adobe subscription"},
}

func main() {
	var (
		scenario   = flag.String("scenario", "all", "Scenario to generate, or 'all'")
		outputDir  = flag.String("output-dir", "../generated", "Output directory for generated files")
		bankLayout = flag.String("bank-format", "bank_statement", "Bank CSV layout: normalized or bank_statement")
		ledgerLay  = flag.String("ledger-format", "ledger_export", "Ledger CSV layout: normalized or ledger_export")
		seed       = flag.Int64("seed", 0, "Random seed (0 uses the current time)")
		list       = flag.Bool("list", false, "List available scenarios")
	)
	flag.Parse()

	if *list {
		listScenarios()
		return
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	fmt.Printf("Using seed: %d\n", *seed)

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	selected := scenarios
	if *scenario != "all" {
		selected = nil
		for _, s := range scenarios {
			if s.Name == *scenario {
				selected = append(selected, s)
			}
		}
		if len(selected) == 0 {
			log.Fatalf("Unknown scenario: %s", *scenario)
		}
	}

	for _, s := range selected {
		fmt.Printf("  Generating %s (%s)...\n", s.Name, s.Description)
		if err := generate(s, *outputDir, *bankLayout, *ledgerLay, *seed); err != nil {
			log.Fatalf("Failed to generate %s: %v", s.Name, err)
		}
	}
	fmt.Printf("Generated files are in: %s\n", *outputDir)
}

func listScenarios() {
	fmt.Println("Available scenarios:")
	for _, s := range scenarios {
		fmt.Printf("  %-12s %s (%d bank records)\n", s.Name, s.Description, s.Count)
	}
}

func generate(s Scenario, outputDir, bankLayout, ledgerLayout string, seed int64) error {
	rng := rand.New(rand.NewSource(seed))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	expected := &Expected{Scenario: s.Name, Seed: seed, Pairs: make(map[string]string)}
	var bank, ledger []entry

	for i := 0; i < s.Count; i++ {
		m := merchants[rng.Intn(len(merchants))]
		amount := decimal.New(int64(rng.Intn(250000)+100), -2)
		if rng.Intn(5) == 0 {
			amount = amount.Neg()
		}
		date := start.AddDate(0, 0, rng.Intn(60))

		b := entry{id: fmt.Sprintf("BNK-%05d", i+1), date: date, description: m.bank, amount: amount}
		bank = append(bank, b)

		if rng.Float64() >= s.MatchRatio {
			// Unrelated ledger entry far outside any date window
			ledger = append(ledger, entry{
				id:          fmt.Sprintf("GL-%05d", i+1),
				date:        date.AddDate(0, 3, 0),
				description: merchants[rng.Intn(len(merchants))].ledger,
				amount:      decimal.New(int64(rng.Intn(250000)+100), -2),
			})
			continue
		}

		l := entry{id: fmt.Sprintf("GL-%05d", i+1), date: date, description: m.ledger, amount: amount}
		if s.AmountDrift > 0 {
			l.amount = l.amount.Add(decimal.New(rng.Int63n(s.AmountDrift+1), -2))
		}
		if s.DateDrift > 0 {
			l.date = l.date.AddDate(0, 0, rng.Intn(2*s.DateDrift+1)-s.DateDrift)
		}
		ledger = append(ledger, l)
		expected.Pairs[b.id] = l.id

		if len(expected.Duplicates) < s.Duplicates {
			dup := l
			dup.id = l.id + "-DUP"
			ledger = append(ledger, dup)
			expected.Duplicates = append(expected.Duplicates, dup.id)
		}
	}

	rng.Shuffle(len(ledger), func(i, j int) { ledger[i], ledger[j] = ledger[j], ledger[i] })

	dir := filepath.Join(outputDir, s.Name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := writeCSV(filepath.Join(dir, "bank.csv"), bankLayout, bank); err != nil {
		return err
	}
	if err := writeCSV(filepath.Join(dir, "ledger.csv"), ledgerLayout, ledger); err != nil {
		return err
	}
	return writeExpected(filepath.Join(dir, "expected.json"), expected)
}

func writeCSV(path, layout string, entries []entry) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	switch layout {
	case "normalized":
		w.Write([]string{"id", "date", "description", "amount"})
		for _, e := range entries {
			w.Write([]string{e.id, e.date.Format("2006-01-02"), e.description, e.amount.StringFixed(2)})
		}
	case "bank_statement":
		w.Write([]string{"Date", "Reference", "Description", "Debit", "Credit"})
		for _, e := range entries {
			debit, credit := "", e.amount.StringFixed(2)
			if e.amount.IsNegative() {
				debit, credit = e.amount.Abs().StringFixed(2), ""
			}
			w.Write([]string{e.date.Format("01/02/2006"), e.id, e.description, debit, credit})
		}
	case "ledger_export":
		w.Write([]string{"Reference", "Transaction Date", "Description", "Amount", "Type"})
		for _, e := range entries {
			kind := "CREDIT"
			if e.amount.IsNegative() {
				kind = "DEBIT"
			}
			w.Write([]string{e.id, e.date.Format("2006-01-02"), e.description, e.amount.Abs().StringFixed(2), kind})
		}
	default:
		return fmt.Errorf("unknown layout %q (want %s)", layout, strings.Join([]string{"normalized", "bank_statement", "ledger_export"}, ", "))
	}

	w.Flush()
	return w.Error()
}

func writeExpected(path string, expected *Expected) error {
	data, err := json.MarshalIndent(expected, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
