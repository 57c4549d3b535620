// Package polis loads raw deliberation data from a Polis instance.
//
// Data arrives either from the live API (APISource) or from a directory of
// previously dumped JSON files (DirSource). Both produce a Bundle holding
// vote events, statement metadata and, when available, the platform's own
// clustering snapshot (the "math" payload).
package polis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Raw file names shared by DirSource and Dump.
const (
	CommentsFile     = "comments.json"
	VotesFile        = "votes.json"
	MathFile         = "math-pca2.json"
	ConversationFile = "conversation.json"
)

// ErrMalformedVoteData is returned for a vote value outside {-1, 0, 1},
// including fractional and non-numeric values.
var ErrMalformedVoteData = errors.New("malformed vote data")

// secondsCutoff separates second-resolution timestamps from millisecond ones.
// 1e11 seconds is roughly the year 5138.
const secondsCutoff = 1e11

// VoteEvent is a single vote as recorded by the platform.
type VoteEvent struct {
	ParticipantID string
	StatementID   string
	Vote          int
	// ModifiedAt is milliseconds since epoch.
	ModifiedAt int64
}

// Statement is the subset of comment metadata the pipeline reads.
type Statement struct {
	ID        string
	AuthorID  string
	Text      string
	Moderated int
	IsMeta    bool
}

// GroupCluster is one of the platform's top-level opinion groups.
type GroupCluster struct {
	ID      int       `json:"id"`
	Center  []float64 `json:"center"`
	Members []int     `json:"members"`
}

// BaseClusters is the columnar base-cluster table in the math payload.
type BaseClusters struct {
	ID      []int     `json:"id"`
	Members [][]Num   `json:"members"`
	X       []float64 `json:"x"`
	Y       []float64 `json:"y"`
	Count   []int     `json:"count"`
}

// MathSnapshot is the platform's clustering snapshot.
type MathSnapshot struct {
	InConv            []Num          `json:"in-conv"`
	GroupClusters     []GroupCluster `json:"group-clusters"`
	BaseClusters      BaseClusters   `json:"base-clusters"`
	LastVoteTimestamp Num            `json:"lastVoteTimestamp"`
}

// Participants returns the participants the platform placed in its own
// projection. "in-conv" wins; flattened base-cluster members are the
// fallback for older payloads.
func (m *MathSnapshot) Participants() []string {
	if m == nil {
		return nil
	}
	if len(m.InConv) > 0 {
		out := make([]string, 0, len(m.InConv))
		for _, pid := range m.InConv {
			out = append(out, pid.String())
		}
		return out
	}
	var out []string
	for _, members := range m.BaseClusters.Members {
		for _, pid := range members {
			out = append(out, pid.String())
		}
	}
	return out
}

// Centers returns group-cluster centers in the platform's coordinate frame.
func (m *MathSnapshot) Centers() [][2]float64 {
	if m == nil {
		return nil
	}
	out := make([][2]float64, 0, len(m.GroupClusters))
	for _, g := range m.GroupClusters {
		if len(g.Center) < 2 {
			continue
		}
		out = append(out, [2]float64{g.Center[0], g.Center[1]})
	}
	return out
}

// LastVote returns the snapshot's last-vote timestamp in milliseconds, or 0.
func (m *MathSnapshot) LastVote() int64 {
	if m == nil {
		return 0
	}
	return m.LastVoteTimestamp.Int64()
}

// Bundle is everything one load produced.
type Bundle struct {
	BaseURL        string
	ConversationID string
	ReportID       string
	ReportURL      string

	Votes      []VoteEvent
	Statements []Statement

	// Raw payloads, kept byte-for-byte for statements.json and dumps.
	RawComments     json.RawMessage
	RawVotes        json.RawMessage
	RawMath         json.RawMessage
	RawConversation json.RawMessage

	// Math is nil when MathErr is set.
	Math    *MathSnapshot
	MathErr *UpstreamFetchError
}

// Source produces a Bundle.
type Source interface {
	Load(ctx context.Context) (*Bundle, error)
	// Describe returns a short human string for progress output.
	Describe() string
}

// UpstreamFetchError explains why the clustering snapshot is unusable.
type UpstreamFetchError struct {
	Reason string
	Err    error
}

// Snapshot failure reasons.
const (
	ReasonUnavailable  = "unavailable"
	ReasonIncompatible = "incompatible"
)

func (e *UpstreamFetchError) Error() string {
	if e.Err == nil {
		return "upstream snapshot " + e.Reason
	}
	return fmt.Sprintf("upstream snapshot %s: %v", e.Reason, e.Err)
}

func (e *UpstreamFetchError) Unwrap() error { return e.Err }

// IsUpstreamFetch reports whether err is an UpstreamFetchError.
func IsUpstreamFetch(err error) bool {
	var ufe *UpstreamFetchError
	return errors.As(err, &ufe)
}

// Num decodes JSON numbers that some endpoints send as strings
// (Postgres bigints) or floats ("1700000000000.0").
type Num string

func (n *Num) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = Num(strings.TrimSpace(s))
		return nil
	}
	*n = Num(string(b))
	return nil
}

func (n Num) MarshalJSON() ([]byte, error) {
	if n == "" {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseFloat(string(n), 64); err == nil {
		return []byte(n), nil
	}
	return json.Marshal(string(n))
}

// String returns the canonical ID form: integral floats lose their ".0".
func (n Num) String() string {
	s := string(n)
	if i := strings.IndexByte(s, '.'); i > 0 && strings.Trim(s[i+1:], "0") == "" {
		return s[:i]
	}
	return s
}

// Int64 parses the value, returning 0 for empty or unparseable input.
func (n Num) Int64() int64 {
	s := n.String()
	if s == "" {
		return 0
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(f)
}

// ToMillis normalizes a second- or millisecond-resolution timestamp to
// milliseconds.
func ToMillis(ts int64) int64 {
	if ts > 0 && ts < secondsCutoff {
		return ts * 1000
	}
	return ts
}

type rawComment struct {
	TID     Num    `json:"tid"`
	PID     Num    `json:"pid"`
	Txt     string `json:"txt"`
	Mod     Num    `json:"mod"`
	IsMeta  bool   `json:"is_meta"`
	StmtID  Num    `json:"statement_id"`
	Moderat Num    `json:"moderated"`
}

type rawVote struct {
	PID       Num `json:"pid"`
	TID       Num `json:"tid"`
	Vote      Num `json:"vote"`
	Modified  Num `json:"modified"`
	Timestamp Num `json:"timestamp"`
}

type rawConversation struct {
	ConversationID string `json:"conversation_id"`
}

type rawReport struct {
	ReportID       string `json:"report_id"`
	ConversationID string `json:"conversation_id"`
	ReportURL      string `json:"report_url"`
}

// ParseStatements decodes a comments payload.
func ParseStatements(data []byte) ([]Statement, error) {
	var raw []rawComment
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding comments: %w", err)
	}
	out := make([]Statement, 0, len(raw))
	for _, c := range raw {
		id := c.TID
		if id == "" {
			id = c.StmtID
		}
		mod := c.Mod
		if mod == "" {
			mod = c.Moderat
		}
		out = append(out, Statement{
			ID:        id.String(),
			AuthorID:  c.PID.String(),
			Text:      c.Txt,
			Moderated: int(mod.Int64()),
			IsMeta:    c.IsMeta,
		})
	}
	return out, nil
}

// ParseVotes decodes a votes payload. Values that are not integers fail
// with ErrMalformedVoteData; the range check belongs to the matrix builder.
func ParseVotes(data []byte) ([]VoteEvent, error) {
	var raw []rawVote
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding votes: %w", err)
	}
	out := make([]VoteEvent, 0, len(raw))
	for _, v := range raw {
		ts := v.Modified
		if ts == "" {
			ts = v.Timestamp
		}
		vote, err := strconv.ParseFloat(v.Vote.String(), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: vote %q for participant %s on statement %s: %v",
				ErrMalformedVoteData, v.Vote, v.PID.String(), v.TID.String(), err)
		}
		if math.IsNaN(vote) || math.IsInf(vote, 0) || vote != math.Trunc(vote) {
			return nil, fmt.Errorf("%w: vote %q for participant %s on statement %s is not an integer",
				ErrMalformedVoteData, v.Vote, v.PID.String(), v.TID.String())
		}
		out = append(out, VoteEvent{
			ParticipantID: v.PID.String(),
			StatementID:   v.TID.String(),
			Vote:          int(vote),
			ModifiedAt:    ToMillis(ts.Int64()),
		})
	}
	return out, nil
}

// ParseMath decodes a math payload. A payload that decodes but carries no
// participants is reported as incompatible.
func ParseMath(data []byte) (*MathSnapshot, *UpstreamFetchError) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &UpstreamFetchError{Reason: ReasonUnavailable, Err: errors.New("empty math payload")}
	}
	var m MathSnapshot
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &UpstreamFetchError{Reason: ReasonIncompatible, Err: err}
	}
	if len(m.Participants()) == 0 {
		return nil, &UpstreamFetchError{Reason: ReasonIncompatible, Err: errors.New("math payload lists no participants")}
	}
	return &m, nil
}

func parseConversationID(data []byte) string {
	var c rawConversation
	if err := json.Unmarshal(data, &c); err != nil {
		return ""
	}
	return c.ConversationID
}
