package pipeline

import (
	"errors"

	"github.com/hurttlocker/polismap/internal/dataset"
	"github.com/hurttlocker/polismap/internal/matrix"
	"github.com/hurttlocker/polismap/internal/polis"
)

// ErrMissingIdentifier means the run had neither a source nor a prior meta
// record to update from. It aborts before any computation.
var ErrMissingIdentifier = errors.New("missing dataset identifier")

// ErrMalformedVoteData aborts the current slug's run.
var ErrMalformedVoteData = matrix.ErrMalformedVoteData

type (
	// StaleConfigError is a recoverable unreadable meta record.
	StaleConfigError = dataset.StaleConfigError
	// UpstreamFetchError is a recoverable unusable clustering snapshot.
	UpstreamFetchError = polis.UpstreamFetchError
)
