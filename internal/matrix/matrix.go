// Package matrix builds the participant×statement vote matrix and derives
// the filtered views the projection step consumes.
package matrix

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/hurttlocker/polismap/internal/polis"
)

// ErrMalformedVoteData is returned when a vote value is outside {-1, 0, 1}.
var ErrMalformedVoteData = polis.ErrMalformedVoteData

// Matrix is an immutable participant×statement grid. Missing cells are NaN.
type Matrix struct {
	rows   []string
	cols   []string
	rowIdx map[string]int
	colIdx map[string]int
	cells  [][]float64
}

// Cell is one non-missing vote in long format.
type Cell struct {
	ParticipantID string
	StatementID   string
	Vote          int
}

type lastVote struct {
	vote       int
	modifiedAt int64
}

// Build reconstructs the matrix from raw events. For duplicate
// (participant, statement) pairs the greatest ModifiedAt wins; on equal
// timestamps the greater vote value wins, so input order never matters.
func Build(events []polis.VoteEvent) (*Matrix, error) {
	type key struct{ p, s string }
	latest := make(map[key]lastVote, len(events))
	rowSet := make(map[string]struct{})
	colSet := make(map[string]struct{})

	for _, e := range events {
		if e.Vote < -1 || e.Vote > 1 {
			return nil, fmt.Errorf("%w: participant %s statement %s has vote %d",
				ErrMalformedVoteData, e.ParticipantID, e.StatementID, e.Vote)
		}
		k := key{e.ParticipantID, e.StatementID}
		if prev, ok := latest[k]; ok && (prev.modifiedAt > e.ModifiedAt ||
			prev.modifiedAt == e.ModifiedAt && prev.vote >= e.Vote) {
			continue
		}
		latest[k] = lastVote{vote: e.Vote, modifiedAt: e.ModifiedAt}
		rowSet[e.ParticipantID] = struct{}{}
		colSet[e.StatementID] = struct{}{}
	}

	m := newMatrix(SortIDs(setKeys(rowSet)), SortIDs(setKeys(colSet)))
	for k, v := range latest {
		m.cells[m.rowIdx[k.p]][m.colIdx[k.s]] = float64(v.vote)
	}
	return m, nil
}

func newMatrix(rows, cols []string) *Matrix {
	m := &Matrix{
		rows:   rows,
		cols:   cols,
		rowIdx: indexOf(rows),
		colIdx: indexOf(cols),
		cells:  make([][]float64, len(rows)),
	}
	for i := range m.cells {
		row := make([]float64, len(cols))
		for j := range row {
			row[j] = math.NaN()
		}
		m.cells[i] = row
	}
	return m
}

// Rows returns participant IDs in matrix order.
func (m *Matrix) Rows() []string { return append([]string(nil), m.rows...) }

// Cols returns statement IDs in matrix order.
func (m *Matrix) Cols() []string { return append([]string(nil), m.cols...) }

// Shape returns (rows, cols).
func (m *Matrix) Shape() (int, int) { return len(m.rows), len(m.cols) }

// HasRow reports whether the participant voted at all.
func (m *Matrix) HasRow(pid string) bool {
	_, ok := m.rowIdx[pid]
	return ok
}

// Get returns the vote for (participant, statement) and whether it exists.
func (m *Matrix) Get(pid, sid string) (int, bool) {
	i, ok := m.rowIdx[pid]
	if !ok {
		return 0, false
	}
	j, ok := m.colIdx[sid]
	if !ok {
		return 0, false
	}
	v := m.cells[i][j]
	if math.IsNaN(v) {
		return 0, false
	}
	return int(v), true
}

// DropColumns returns a copy without the given statements. Unknown IDs are
// ignored.
func (m *Matrix) DropColumns(drop []string) *Matrix {
	skip := make(map[string]struct{}, len(drop))
	for _, id := range drop {
		skip[id] = struct{}{}
	}
	keep := make([]string, 0, len(m.cols))
	for _, c := range m.cols {
		if _, ok := skip[c]; !ok {
			keep = append(keep, c)
		}
	}
	return m.project(m.rows, keep)
}

// SelectRows returns a copy restricted to the given participants, in matrix
// row order. Unknown IDs are ignored.
func (m *Matrix) SelectRows(ids []string) *Matrix {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	keep := make([]string, 0, len(ids))
	for _, r := range m.rows {
		if _, ok := want[r]; ok {
			keep = append(keep, r)
		}
	}
	return m.project(keep, m.cols)
}

func (m *Matrix) project(rows, cols []string) *Matrix {
	out := newMatrix(append([]string(nil), rows...), append([]string(nil), cols...))
	for i, r := range rows {
		src := m.cells[m.rowIdx[r]]
		for j, c := range cols {
			out.cells[i][j] = src[m.colIdx[c]]
		}
	}
	return out
}

// Dense returns a fresh row-major copy with NaN for missing votes.
func (m *Matrix) Dense() [][]float64 {
	out := make([][]float64, len(m.cells))
	for i, row := range m.cells {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// NonMissingCounts returns, per row, how many cells hold a vote, ignoring
// columns listed in exclude.
func (m *Matrix) NonMissingCounts(exclude []string) map[string]int {
	skip := make(map[int]struct{}, len(exclude))
	for _, id := range exclude {
		if j, ok := m.colIdx[id]; ok {
			skip[j] = struct{}{}
		}
	}
	out := make(map[string]int, len(m.rows))
	for i, r := range m.rows {
		n := 0
		for j, v := range m.cells[i] {
			if _, s := skip[j]; s || math.IsNaN(v) {
				continue
			}
			n++
		}
		out[r] = n
	}
	return out
}

// Long returns non-missing votes row by row.
func (m *Matrix) Long() []Cell {
	var out []Cell
	for i, r := range m.rows {
		for j, v := range m.cells[i] {
			if math.IsNaN(v) {
				continue
			}
			out = append(out, Cell{ParticipantID: r, StatementID: m.cols[j], Vote: int(v)})
		}
	}
	return out
}

// SortIDs sorts IDs numerically when both sides parse as integers and
// lexically otherwise; integers sort before non-integers.
func SortIDs(ids []string) []string {
	sort.SliceStable(ids, func(i, j int) bool { return lessID(ids[i], ids[j]) })
	return ids
}

func lessID(a, b string) bool {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	switch {
	case aerr == nil && berr == nil:
		return ai < bi
	case aerr == nil:
		return true
	case berr == nil:
		return false
	default:
		return a < b
	}
}

func setKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func indexOf(ids []string) map[string]int {
	idx := make(map[string]int, len(ids))
	for i, id := range ids {
		idx[id] = i
	}
	return idx
}
