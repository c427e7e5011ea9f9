package assignment

import (
	"math"
	"sort"

	"ledger-reconciliation-service/internal/models"
	"ledger-reconciliation-service/pkg/logger"
)

// DefaultMaxComponentSize bounds the matrix the Hungarian step will build.
// Larger components are solved greedily.
const DefaultMaxComponentSize = 2000

// GlobalSolver maximises, per connected component of the eligible graph,
// first the number of accepted pairs and then their total confidence.
// Putting cardinality first means raising the confidence floor can only
// remove edges and never adds matches.
type GlobalSolver struct {
	maxComponentSize int
	logger           logger.Logger
}

// NewGlobalSolver creates a global solver. Non-positive sizes select the default.
func NewGlobalSolver(maxComponentSize int) *GlobalSolver {
	if maxComponentSize <= 0 {
		maxComponentSize = DefaultMaxComponentSize
	}
	return &GlobalSolver{
		maxComponentSize: maxComponentSize,
		logger:           logger.GetGlobalLogger().WithComponent("assignment"),
	}
}

// Strategy implements Solver
func (s *GlobalSolver) Strategy() Strategy { return StrategyGlobal }

// Solve implements Solver
func (s *GlobalSolver) Solve(pairs []models.CandidatePair, minConfidence float64) (*Assignment, error) {
	edges := eligible(pairs, minConfidence)

	var accepted []models.CandidatePair
	for _, component := range components(edges) {
		accepted = append(accepted, s.solveComponent(component)...)
	}
	sortByIDs(accepted)

	if err := Verify(accepted, minConfidence); err != nil {
		return nil, err
	}
	return &Assignment{Pairs: accepted, Strategy: StrategyGlobal}, nil
}

func (s *GlobalSolver) solveComponent(edges []models.CandidatePair) []models.CandidatePair {
	if len(edges) == 1 {
		return edges
	}

	banks, ledgers := sides(edges)
	size := len(banks)
	if len(ledgers) > size {
		size = len(ledgers)
	}
	if size > s.maxComponentSize {
		s.logger.WithFields(logger.Fields{
			"bank_records":   len(banks),
			"ledger_records": len(ledgers),
			"limit":          s.maxComponentSize,
		}).Warn("Candidate component too large for global assignment, using greedy")
		return greedy(edges)
	}

	// rows must be the smaller side
	transposed := len(banks) > len(ledgers)
	rows, cols := banks, ledgers
	if transposed {
		rows, cols = ledgers, banks
	}
	rowIndex := indexOf(rows)
	colIndex := indexOf(cols)

	n, m := len(rows), len(cols)
	bonus := float64(n) + 1
	weight := make([][]float64, n)
	edgeAt := make([][]int, n)
	for i := range weight {
		weight[i] = make([]float64, m)
		edgeAt[i] = make([]int, m)
		for j := range edgeAt[i] {
			edgeAt[i][j] = -1
		}
	}

	for k, e := range edges {
		r, c := rowIndex[e.BankID], colIndex[e.LedgerID]
		if transposed {
			r, c = rowIndex[e.LedgerID], colIndex[e.BankID]
		}
		weight[r][c] = bonus + e.Confidence
		edgeAt[r][c] = k
	}

	var accepted []models.CandidatePair
	for r, c := range maxWeightAssignment(weight, n, m) {
		if k := edgeAt[r][c]; k >= 0 {
			accepted = append(accepted, edges[k])
		}
	}
	return accepted
}

// maxWeightAssignment assigns every row of an n x m matrix (n <= m) to a
// distinct column maximising total weight, using the Hungarian method with
// potentials. It returns the column chosen for each row.
func maxWeightAssignment(weight [][]float64, n, m int) []int {
	inf := math.Inf(1)
	u := make([]float64, n+1)
	v := make([]float64, m+1)
	p := make([]int, m+1)
	way := make([]int, m+1)

	cost := func(i, j int) float64 { return -weight[i-1][j-1] }

	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0
		minv := make([]float64, m+1)
		used := make([]bool, m+1)
		for j := range minv {
			minv[j] = inf
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := 0

			for j := 1; j <= m; j++ {
				if used[j] {
					continue
				}
				cur := cost(i0, j) - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}

			for j := 0; j <= m; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}

			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	result := make([]int, n)
	for j := 1; j <= m; j++ {
		if p[j] != 0 {
			result[p[j]-1] = j - 1
		}
	}
	return result
}

// components splits edges into connected components, ordered by their
// smallest bank id.
func components(edges []models.CandidatePair) [][]models.CandidatePair {
	parent := make(map[string]string)
	var find func(string) string
	find = func(x string) string {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b string) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		if ra < rb {
			parent[rb] = ra
		} else {
			parent[ra] = rb
		}
	}

	for _, e := range edges {
		b, l := "b:"+e.BankID, "l:"+e.LedgerID
		if _, ok := parent[b]; !ok {
			parent[b] = b
		}
		if _, ok := parent[l]; !ok {
			parent[l] = l
		}
		union(b, l)
	}

	groups := make(map[string][]models.CandidatePair)
	var roots []string
	for _, e := range edges {
		root := find("b:" + e.BankID)
		if _, ok := groups[root]; !ok {
			roots = append(roots, root)
		}
		groups[root] = append(groups[root], e)
	}

	key := func(group []models.CandidatePair) string {
		min := group[0].BankID
		for _, e := range group[1:] {
			if e.BankID < min {
				min = e.BankID
			}
		}
		return min
	}
	sort.Slice(roots, func(i, j int) bool {
		return key(groups[roots[i]]) < key(groups[roots[j]])
	})

	out := make([][]models.CandidatePair, len(roots))
	for i, root := range roots {
		out[i] = groups[root]
	}
	return out
}

func sides(edges []models.CandidatePair) ([]string, []string) {
	bankSet := make(map[string]struct{})
	ledgerSet := make(map[string]struct{})
	for _, e := range edges {
		bankSet[e.BankID] = struct{}{}
		ledgerSet[e.LedgerID] = struct{}{}
	}
	return sortedKeys(bankSet), sortedKeys(ledgerSet)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func indexOf(ids []string) map[string]int {
	index := make(map[string]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}
	return index
}
