package polis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DirSource reads a previously dumped set of raw files.
type DirSource struct {
	Dir string
	// BaseURL is used for derived URLs; the dump does not record it.
	BaseURL string
}

func (d *DirSource) Describe() string { return "directory " + d.Dir }

// Load reads comments, votes, math and conversation files from Dir. A
// missing or broken math file is not fatal: it is reported on the bundle.
func (d *DirSource) Load(ctx context.Context) (*Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := &Bundle{BaseURL: d.BaseURL}

	comments, err := os.ReadFile(filepath.Join(d.Dir, CommentsFile))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", CommentsFile, err)
	}
	if b.Statements, err = ParseStatements(comments); err != nil {
		return nil, err
	}
	b.RawComments = comments

	votes, err := os.ReadFile(filepath.Join(d.Dir, VotesFile))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", VotesFile, err)
	}
	if b.Votes, err = ParseVotes(votes); err != nil {
		return nil, err
	}
	b.RawVotes = votes

	conv, err := os.ReadFile(filepath.Join(d.Dir, ConversationFile))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", ConversationFile, err)
	}
	b.RawConversation = conv
	b.ConversationID = parseConversationID(conv)
	if b.ConversationID == "" {
		return nil, fmt.Errorf("%s has no conversation_id", ConversationFile)
	}

	math, err := os.ReadFile(filepath.Join(d.Dir, MathFile))
	if err != nil {
		b.MathErr = &UpstreamFetchError{Reason: ReasonUnavailable, Err: err}
	} else {
		b.RawMath = math
		b.Math, b.MathErr = ParseMath(math)
	}

	return b, nil
}

// Dump writes the bundle's raw payloads to dir so a later run can load
// them through DirSource.
func Dump(b *Bundle, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating dump dir: %w", err)
	}
	files := []struct {
		name string
		data json.RawMessage
	}{
		{CommentsFile, b.RawComments},
		{VotesFile, b.RawVotes},
		{MathFile, b.RawMath},
		{ConversationFile, b.RawConversation},
	}
	for _, f := range files {
		if len(f.data) == 0 {
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, f.name), f.data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", f.name, err)
		}
	}
	return nil
}
