package dataset

import "github.com/hurttlocker/polismap/internal/polis"

// Outcome is the merge transition taken for a slug.
type Outcome string

const (
	// Created: no prior record existed.
	Created Outcome = "created"
	// Updated: update mode refreshed URLs and last_vote.
	Updated Outcome = "updated"
	// Preserved: a record exists and the run was not in update mode, or the
	// existing record was unreadable.
	Preserved Outcome = "preserved"
)

// Observation is what a run freshly learned about a dataset.
type Observation struct {
	ConversationURL string
	ReportURL       string
	// LastVote is milliseconds since epoch; 0 means unknown.
	LastVote int64
}

// MergeOptions selects the transition rules.
type MergeOptions struct {
	// Update is set when the run was invoked with only a known slug.
	Update bool
	// Monotonic keeps a stored last_vote newer than the observed one.
	// Off by default: the observed value always overwrites.
	Monotonic bool
}

// Merge applies one run's observation to the prior record.
//
//	nil prior            -> Created (defaults plus observed URLs/last_vote)
//	prior, !opts.Update  -> Preserved (prior returned as is)
//	prior, opts.Update   -> Updated (URLs and last_vote refreshed; about_url,
//	                        n_neighbors, flips and unknown keys untouched)
//
// The prior record is never mutated.
func Merge(prior *Meta, obs Observation, opts MergeOptions) (*Meta, Outcome) {
	if prior == nil {
		m := Defaults()
		m.ConversationURL = nonEmpty(obs.ConversationURL)
		m.ReportURL = nonEmpty(obs.ReportURL)
		if obs.LastVote > 0 {
			m.LastVote = ptr(obs.LastVote)
		}
		return m, Created
	}
	if !opts.Update {
		return prior, Preserved
	}

	m := prior.Clone()
	if obs.ConversationURL != "" {
		m.ConversationURL = ptr(obs.ConversationURL)
	}
	if obs.ReportURL != "" {
		m.ReportURL = ptr(obs.ReportURL)
	}
	if obs.LastVote > 0 {
		if !opts.Monotonic || m.LastVote == nil || obs.LastVote >= *m.LastVote {
			m.LastVote = ptr(obs.LastVote)
		}
	}
	return m, Updated
}

// ResolveLastVote prefers the snapshot's own timestamp and falls back to the
// newest vote event. Both are milliseconds.
func ResolveLastVote(snap *polis.MathSnapshot, votes []polis.VoteEvent) int64 {
	if ts := snap.LastVote(); ts > 0 {
		return ts
	}
	var latest int64
	for _, v := range votes {
		if v.ModifiedAt > latest {
			latest = v.ModifiedAt
		}
	}
	return latest
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
