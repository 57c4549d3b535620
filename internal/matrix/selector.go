package matrix

import (
	"errors"

	"github.com/hurttlocker/polismap/internal/polis"
)

// DefaultMinVotes is the heuristic clusterable threshold.
const DefaultMinVotes = 7

// Selector decides which participants are clusterable.
type Selector interface {
	Name() string
	// Select returns eligible participant IDs in matrix row order.
	Select(m *Matrix) []string
}

// AuthoritativeSelector trusts the platform's own participant list.
type AuthoritativeSelector struct {
	Participants []string
}

func (a AuthoritativeSelector) Name() string { return "authoritative" }

// Select intersects the external list with the matrix rows; listed
// participants without votes are dropped silently.
func (a AuthoritativeSelector) Select(m *Matrix) []string {
	listed := make(map[string]struct{}, len(a.Participants))
	for _, pid := range a.Participants {
		listed[pid] = struct{}{}
	}
	out := make([]string, 0, len(listed))
	for _, pid := range m.rows {
		if _, ok := listed[pid]; ok {
			out = append(out, pid)
		}
	}
	return out
}

// ThresholdSelector keeps participants with at least MinVotes votes on
// votable statements.
type ThresholdSelector struct {
	MinVotes int
	// Exclude lists non-votable statement IDs that do not count.
	Exclude []string
}

func (t ThresholdSelector) Name() string { return "threshold" }

func (t ThresholdSelector) Select(m *Matrix) []string {
	need := t.MinVotes
	if need <= 0 {
		need = DefaultMinVotes
	}
	counts := m.NonMissingCounts(t.Exclude)
	out := make([]string, 0, len(m.rows))
	for _, pid := range m.rows {
		if counts[pid] >= need {
			out = append(out, pid)
		}
	}
	return out
}

// ResolveSelector picks the authoritative selector when a usable snapshot
// exists and falls back to the threshold heuristic otherwise. The returned
// error explains the fallback and is nil on the authoritative path.
func ResolveSelector(m *Matrix, snap *polis.MathSnapshot, fetchErr *polis.UpstreamFetchError, minVotes int, classes Classes) (Selector, *polis.UpstreamFetchError) {
	fallback := ThresholdSelector{MinVotes: minVotes, Exclude: classes.Excluded()}
	if fetchErr != nil {
		return fallback, fetchErr
	}
	if snap == nil {
		return fallback, &polis.UpstreamFetchError{Reason: polis.ReasonUnavailable, Err: errors.New("no snapshot loaded")}
	}
	auth := AuthoritativeSelector{Participants: snap.Participants()}
	if len(auth.Select(m)) == 0 {
		return fallback, &polis.UpstreamFetchError{
			Reason: polis.ReasonIncompatible,
			Err:    errors.New("snapshot participants do not overlap the vote matrix"),
		}
	}
	return auth, nil
}
