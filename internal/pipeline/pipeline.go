// Package pipeline runs one dataset from raw votes to persisted map files.
//
// A run builds the vote matrix, drops moderated-out columns, picks the
// clusterable participants once, projects every participant with each
// configured algorithm, clusters the clusterable rows with each configured
// clusterer, writes the artifacts and finally merges the meta record and
// catalog entry.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/hurttlocker/polismap/internal/cluster"
	"github.com/hurttlocker/polismap/internal/dataset"
	"github.com/hurttlocker/polismap/internal/matrix"
	"github.com/hurttlocker/polismap/internal/polis"
	"github.com/hurttlocker/polismap/internal/project"
	"github.com/hurttlocker/polismap/internal/store"
)

// Config holds run-wide settings. Zero values select defaults.
type Config struct {
	// DumpsDir receives raw payloads of API loads. Empty disables dumps.
	DumpsDir string
	BaseURL  string
	CABundle string

	Seed        int64
	MinVotes    int
	Projections []project.Algorithm
	Clusterers  []cluster.Algorithm
	// KMeansK is the unseeded KMeans cluster count.
	KMeansK        int
	MinClusterSize int

	MonotonicLastVote bool
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = polis.DefaultBaseURL
	}
	if c.Seed == 0 {
		c.Seed = project.DefaultSeed
	}
	if c.MinVotes <= 0 {
		c.MinVotes = matrix.DefaultMinVotes
	}
	if len(c.Projections) == 0 {
		c.Projections = project.Algorithms()
	}
	if len(c.Clusterers) == 0 {
		c.Clusterers = cluster.Algorithms()
	}
	if c.KMeansK <= 0 {
		c.KMeansK = cluster.DefaultK
	}
	if c.MinClusterSize <= 0 {
		c.MinClusterSize = cluster.DefaultMinClusterSize
	}
	return c
}

// Request identifies one dataset to generate. With only Slug set the run
// is in update mode: the source is re-derived from the stored meta record.
type Request struct {
	Slug           string
	URL            string
	ReportID       string
	ConversationID string
	ImportDir      string
	// Source overrides every other source field.
	Source polis.Source
}

// UpdateMode reports whether the request names only a slug.
func (r Request) UpdateMode() bool {
	return r.Source == nil && r.URL == "" && r.ReportID == "" && r.ConversationID == "" && r.ImportDir == ""
}

// String names the request for progress output.
func (r Request) String() string {
	switch {
	case r.Source != nil:
		return r.Source.Describe()
	case r.URL != "":
		return r.URL
	case r.ReportID != "":
		return "report " + r.ReportID
	case r.ConversationID != "":
		return "conversation " + r.ConversationID
	case r.ImportDir != "":
		return "directory " + r.ImportDir
	}
	return "slug " + r.Slug
}

// ProjectionResult is one projection's clusterable coordinates and the
// labels every clusterer assigned to them.
type ProjectionResult struct {
	Algorithm   project.Algorithm
	Coordinates [][]float64
	Labels      map[cluster.Algorithm][]int
}

// Result summarizes a finished run.
type Result struct {
	RunID string
	Slug  string
	Dir   string

	// Selector is "authoritative" or "threshold"; Fallback explains the
	// latter.
	Selector string
	Fallback *polis.UpstreamFetchError
	Seeded   bool

	// Participants is the clusterable set, in matrix row order. Every
	// coordinate and label file lists exactly these IDs.
	Participants []string
	// Columns are the statement IDs fed to the projections.
	Columns     []string
	Projections []ProjectionResult

	VotesWritten int
	Outcome      dataset.Outcome
	Meta         *dataset.Meta
	CatalogAdded bool
	Warnings     []string
}

// Runner executes pipeline runs against a meta store, a catalog and an
// output directory layout.
type Runner struct {
	Config  Config
	Meta    dataset.MetaStore
	Catalog dataset.Catalog
	// Dir maps a slug to its output directory.
	Dir func(slug string) string
	// Out receives human progress lines. Nil discards them.
	Out io.Writer
}

// New returns a Runner persisting everything under dataDir.
func New(cfg Config, dataDir string, out io.Writer) *Runner {
	fs := dataset.NewFileStore(dataDir)
	return &Runner{Config: cfg, Meta: fs, Catalog: fs, Dir: fs.Dir, Out: out}
}

func (r *Runner) printf(format string, args ...any) {
	if r.Out != nil {
		fmt.Fprintf(r.Out, format+"\n", args...)
	}
}

// Run generates one dataset.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	cfg := r.Config.withDefaults()
	res := &Result{RunID: uuid.NewString()}
	log := klog.FromContext(ctx).WithValues("run", res.RunID)
	ctx = klog.NewContext(ctx, log)

	src, prior, err := r.resolveSource(ctx, cfg, req)
	if err != nil {
		return nil, err
	}

	r.printf("Loading Polis data from %s", src.Describe())
	bundle, err := src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", src.Describe(), err)
	}

	res.Slug = req.Slug
	if res.Slug == "" {
		res.Slug = bundle.ConversationID
	}
	if err := dataset.ValidateSlug(res.Slug); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingIdentifier, err)
	}
	log = log.WithValues("slug", res.Slug)
	ctx = klog.NewContext(ctx, log)
	res.Dir = r.Dir(res.Slug)
	r.printf("Output directory: %s", res.Dir)

	// A fresh run reads the record it may not overwrite; its overrides
	// still apply.
	var stale *dataset.StaleConfigError
	if !req.UpdateMode() {
		prior, stale = r.readMeta(ctx, res.Slug)
		if stale != nil {
			res.Warnings = append(res.Warnings, stale.Error())
		}
	}
	settings := prior
	if settings == nil {
		settings = dataset.Defaults()
	}

	if cfg.DumpsDir != "" && req.ImportDir == "" {
		if _, ok := src.(*polis.APISource); ok {
			dumpDir := filepath.Join(cfg.DumpsDir, res.Slug)
			r.printf("Dumping raw Polis data to %s", dumpDir)
			if err := polis.Dump(bundle, dumpDir); err != nil {
				return nil, err
			}
		}
	}

	raw, err := matrix.Build(bundle.Votes)
	if err != nil {
		return nil, err
	}
	classes := matrix.Classify(bundle.Statements)
	filtered := raw.DropColumns(classes.ModeratedOut)
	res.Columns = filtered.Cols()
	rows, cols := filtered.Shape()
	log.Info("built vote matrix", "participants", rows, "statements", cols, "moderatedOut", len(classes.ModeratedOut))

	if err := store.WriteStatements(res.Dir, bundle.RawComments); err != nil {
		return nil, err
	}
	r.printf("Saved %s", store.StatementsFile)

	selector, fallback := matrix.ResolveSelector(raw, bundle.Math, bundle.MathErr, cfg.MinVotes, classes)
	res.Selector = selector.Name()
	res.Fallback = fallback
	if fallback != nil {
		log.Info("falling back to vote-count participant selection; centroid seeding disabled",
			"reason", fallback.Reason, "err", fallback, "minVotes", cfg.MinVotes)
		r.printf("Clustering snapshot %s; selecting participants with at least %d votes", fallback.Reason, cfg.MinVotes)
	}
	res.Participants = selector.Select(raw)
	if len(res.Participants) == 0 {
		res.Warnings = append(res.Warnings, "no clusterable participants")
		log.Info("no clusterable participants", "selector", res.Selector)
	}

	var seeds [][2]float64
	if fallback == nil {
		seeds = cluster.ResolveSeeds(bundle.Math, settings.FlipX, settings.FlipY)
	}

	keep := rowPositions(filtered.Rows(), res.Participants)
	sparse := filtered.Dense()
	for _, p := range cfg.Projections {
		r.printf("Running projection: %s", p.DisplayName())
		all, err := project.Run(p, sparse, project.Options{Seed: cfg.Seed, NNeighbors: settings.Neighbors()})
		if err != nil {
			return nil, err
		}
		coords := make([][]float64, len(keep))
		for i, pos := range keep {
			coords[i] = all[pos]
		}
		if err := store.WriteCoordinates(res.Dir, string(p), res.Participants, coords); err != nil {
			return nil, err
		}

		pr := ProjectionResult{Algorithm: p, Coordinates: coords, Labels: make(map[cluster.Algorithm][]int, len(cfg.Clusterers))}
		for _, c := range cfg.Clusterers {
			opts := cluster.Options{Seed: cfg.Seed, K: cfg.KMeansK, MinClusterSize: cfg.MinClusterSize}
			if cluster.UsesSeeds(p, c) && len(seeds) > 0 {
				opts.Init = seeds
				res.Seeded = true
			}
			labels, err := cluster.Run(c, coords, opts)
			if err != nil {
				return nil, fmt.Errorf("%s on %s: %w", c.DisplayName(), p.DisplayName(), err)
			}
			if err := store.WriteLabels(res.Dir, string(p), string(c), res.Participants, labels); err != nil {
				return nil, err
			}
			log.Info("clustered", "projection", p, "clusterer", c, "clusters", cluster.Count(labels), "seeded", len(opts.Init) > 0)
			pr.Labels[c] = labels
		}
		res.Projections = append(res.Projections, pr)
	}

	if res.VotesWritten, err = r.saveVotes(ctx, res.Dir, raw.SelectRows(res.Participants)); err != nil {
		return nil, err
	}
	r.printf("Saved %s with %d rows", store.VotesFile, res.VotesWritten)

	obs := dataset.Observation{
		ConversationURL: strings.TrimRight(bundle.BaseURL, "/") + "/" + bundle.ConversationID,
		ReportURL:       bundle.ReportURL,
		LastVote:        dataset.ResolveLastVote(bundle.Math, bundle.Votes),
	}
	if err := r.mergeMeta(ctx, res, prior, stale, obs, req.UpdateMode(), cfg.MonotonicLastVote); err != nil {
		return nil, err
	}

	added, err := r.Catalog.AppendEntry(dataset.NewEntry(res.Slug))
	if err != nil {
		return nil, fmt.Errorf("updating catalog: %w", err)
	}
	res.CatalogAdded = added
	if added {
		r.printf("Added dataset entry %q", res.Slug)
	}

	log.Info("run complete", "selector", res.Selector, "clusterable", len(res.Participants), "outcome", res.Outcome)
	return res, nil
}

// resolveSource turns the request into a data source. In update mode the
// prior meta record is read here because the source depends on it.
func (r *Runner) resolveSource(ctx context.Context, cfg Config, req Request) (polis.Source, *dataset.Meta, error) {
	switch {
	case req.Source != nil:
		return req.Source, nil, nil
	case req.ImportDir != "":
		return &polis.DirSource{Dir: req.ImportDir, BaseURL: cfg.BaseURL}, nil, nil
	case req.URL != "":
		t, err := polis.ParseURL(req.URL)
		if err != nil {
			return nil, nil, err
		}
		src, err := polis.NewAPISource(t.BaseURL, t.ConversationID, t.ReportID, cfg.CABundle)
		return src, nil, err
	case req.ReportID != "" || req.ConversationID != "":
		src, err := polis.NewAPISource(cfg.BaseURL, req.ConversationID, req.ReportID, cfg.CABundle)
		return src, nil, err
	}

	if req.Slug == "" {
		return nil, nil, fmt.Errorf("%w: pass a URL, report ID, conversation ID, import directory or known slug", ErrMissingIdentifier)
	}
	prior, stale := r.readMeta(ctx, req.Slug)
	if stale != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMissingIdentifier, stale)
	}
	if prior == nil || prior.ConversationURL == nil || *prior.ConversationURL == "" {
		return nil, nil, fmt.Errorf("%w: no stored conversation URL for slug %q", ErrMissingIdentifier, req.Slug)
	}
	t, err := polis.ParseURL(*prior.ConversationURL)
	if err != nil {
		return nil, nil, fmt.Errorf("stored conversation URL for %q: %w", req.Slug, err)
	}
	src, err := polis.NewAPISource(t.BaseURL, t.ConversationID, t.ReportID, cfg.CABundle)
	if err != nil {
		return nil, nil, err
	}
	return src, prior, nil
}

// readMeta loads the prior record. An unreadable record is logged and
// treated as absent.
func (r *Runner) readMeta(ctx context.Context, slug string) (*dataset.Meta, *dataset.StaleConfigError) {
	m, err := r.Meta.ReadMeta(slug)
	if err == nil {
		return m, nil
	}
	var stale *dataset.StaleConfigError
	if !errors.As(err, &stale) {
		stale = &dataset.StaleConfigError{Slug: slug, Err: err}
	}
	klog.FromContext(ctx).Error(stale, "meta record unreadable; using defaults", "slug", slug)
	r.printf("Warning: %v; using defaults", stale)
	return nil, stale
}

// mergeMeta applies the merge rules. A stale record is never overwritten.
func (r *Runner) mergeMeta(ctx context.Context, res *Result, prior *dataset.Meta, stale *dataset.StaleConfigError, obs dataset.Observation, update, monotonic bool) error {
	log := klog.FromContext(ctx)
	if stale != nil {
		res.Outcome = dataset.Preserved
		log.Info("leaving unreadable meta record in place", "path", stale.Path)
		return nil
	}

	next, outcome := dataset.Merge(prior, obs, dataset.MergeOptions{Update: update, Monotonic: monotonic})
	res.Outcome = outcome
	res.Meta = next
	switch outcome {
	case dataset.Preserved:
		r.printf("%s already exists; preserving it", dataset.MetaFile)
		return nil
	case dataset.Created:
		r.printf("Creating %s", dataset.MetaFile)
	case dataset.Updated:
		r.printf("Updating %s", dataset.MetaFile)
	}
	if err := r.Meta.WriteMeta(res.Slug, next); err != nil {
		return fmt.Errorf("writing meta: %w", err)
	}
	log.Info("meta merged", "outcome", outcome)
	return nil
}

func (r *Runner) saveVotes(ctx context.Context, dir string, m *matrix.Matrix) (int, error) {
	db, err := store.OpenVotesDB(filepath.Join(dir, store.VotesFile))
	if err != nil {
		return 0, err
	}
	defer db.Close()
	return db.Replace(ctx, m.Long())
}

// rowPositions maps each wanted ID to its index in rows. wanted must be a
// subset of rows.
func rowPositions(rows, wanted []string) []int {
	idx := make(map[string]int, len(rows))
	for i, id := range rows {
		idx[id] = i
	}
	out := make([]int, len(wanted))
	for i, id := range wanted {
		out[i] = idx[id]
	}
	return out
}
