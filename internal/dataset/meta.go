// Package dataset owns the state that outlives a single run: the per-slug
// meta record and the dataset catalog.
//
// The meta record is read-modify-written through the MetaStore port under
// the Merge rules. Keys the pipeline does not know about are carried through
// untouched so hand-edited records survive re-runs.
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Meta is the persisted per-dataset record (meta.json).
type Meta struct {
	AboutURL        *string `json:"about_url"`
	ConversationURL *string `json:"conversation_url"`
	ReportURL       *string `json:"report_url"`
	// LastVote is milliseconds since epoch.
	LastVote *int64 `json:"last_vote"`
	// NNeighbors overrides the projection neighborhood size.
	NNeighbors *int `json:"n_neighbors"`
	// FlipX and FlipY negate centroid seed axes.
	FlipX bool `json:"flip_x"`
	FlipY bool `json:"flip_y"`

	// Extra holds keys not modelled above.
	Extra map[string]json.RawMessage `json:"-"`
}

var knownKeys = []string{
	"about_url", "conversation_url", "report_url",
	"last_vote", "n_neighbors", "flip_x", "flip_y",
}

// Defaults returns a fresh record: null URLs, null last_vote, no neighbor
// override, both flips on.
func Defaults() *Meta {
	return &Meta{FlipX: true, FlipY: true}
}

// Clone returns a deep copy.
func (m *Meta) Clone() *Meta {
	if m == nil {
		return nil
	}
	out := *m
	out.AboutURL = clonePtr(m.AboutURL)
	out.ConversationURL = clonePtr(m.ConversationURL)
	out.ReportURL = clonePtr(m.ReportURL)
	out.LastVote = clonePtr(m.LastVote)
	out.NNeighbors = clonePtr(m.NNeighbors)
	if m.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &out
}

// Neighbors returns the override, or 0 when unset.
func (m *Meta) Neighbors() int {
	if m == nil || m.NNeighbors == nil {
		return 0
	}
	return *m.NNeighbors
}

// MarshalJSON writes known fields alongside Extra.
func (m Meta) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+len(knownKeys))
	for k, v := range m.Extra {
		out[k] = v
	}
	out["about_url"] = m.AboutURL
	out["conversation_url"] = m.ConversationURL
	out["report_url"] = m.ReportURL
	out["last_vote"] = m.LastVote
	out["n_neighbors"] = m.NNeighbors
	out["flip_x"] = m.FlipX
	out["flip_y"] = m.FlipY
	return json.Marshal(out)
}

// UnmarshalJSON reads known fields and keeps the rest in Extra. Absent or
// null flip flags default to true.
func (m *Meta) UnmarshalJSON(b []byte) error {
	type plain Meta
	p := plain{FlipX: true, FlipY: true}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	for _, k := range knownKeys {
		delete(all, k)
	}
	if len(all) > 0 {
		p.Extra = all
	} else {
		p.Extra = nil
	}
	*m = Meta(p)
	return nil
}

// StaleConfigError reports an existing meta record that could not be read.
// Callers continue with defaults and surface a warning.
type StaleConfigError struct {
	Slug string
	Path string
	Err  error
}

func (e *StaleConfigError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("stale config for %q (%s): %v", e.Slug, e.Path, e.Err)
	}
	return fmt.Sprintf("stale config for %q: %v", e.Slug, e.Err)
}

func (e *StaleConfigError) Unwrap() error { return e.Err }

// IsStale reports whether err is (or wraps) a StaleConfigError.
func IsStale(err error) bool {
	var se *StaleConfigError
	return errors.As(err, &se)
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func ptr[T any](v T) *T { return &v }
