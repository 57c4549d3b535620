package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hurttlocker/polismap/internal/config"
	"github.com/hurttlocker/polismap/internal/pipeline"
)

type generateArgs struct {
	url            string
	reportID       string
	conversationID string
	importDir      string
	slugs          []string

	polisBaseURL string
	caBundle     string
	dumpsDir     string
	seed         int64
	minVotes     int
	noDump       bool
}

func newGenerateCmd(g *globalArgs) *cobra.Command {
	var a generateArgs
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate or refresh opinion-map datasets",
		Long: `Generate a dataset from a Polis conversation, or refresh known datasets.

With a source (--url, --report-id, --convo-id or --import-dir) one dataset is
built; --slug names it and defaults to the conversation ID. With only --slug
(repeatable) each named dataset is refreshed from the conversation URL in its
meta.json; a failing slug does not stop the others.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGenerate(cmd, g, a)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&a.url, "url", "", "Polis conversation or report URL")
	flags.StringVar(&a.reportID, "report-id", "", "Polis report ID")
	flags.StringVar(&a.conversationID, "convo-id", "", "Polis conversation ID")
	flags.StringVar(&a.importDir, "import-dir", "", "load raw files dumped by an earlier run instead of the API")
	flags.StringArrayVar(&a.slugs, "slug", nil, "dataset slug; repeat to refresh several datasets")
	flags.StringVar(&a.polisBaseURL, "polis-base-url", "", "Polis instance for --report-id and --convo-id")
	flags.StringVar(&a.caBundle, "ca-bundle", "", "PEM bundle trusted for Polis HTTPS")
	flags.StringVar(&a.dumpsDir, "dumps-dir", "", "directory receiving raw API payloads")
	flags.Int64Var(&a.seed, "seed", 0, "random seed for projections and clustering")
	flags.IntVar(&a.minVotes, "min-votes", 0, "votes a participant needs when no clustering snapshot is usable")
	flags.BoolVar(&a.noDump, "no-dump", false, "do not save raw API payloads")

	return cmd
}

func (a generateArgs) hasSource() bool {
	return a.url != "" || a.reportID != "" || a.conversationID != "" || a.importDir != ""
}

// requests turns the flags into pipeline requests.
func (a generateArgs) requests() ([]pipeline.Request, error) {
	if a.hasSource() {
		if len(a.slugs) > 1 {
			return nil, errors.New("only one --slug may name a dataset built from a source")
		}
		req := pipeline.Request{
			URL:            a.url,
			ReportID:       a.reportID,
			ConversationID: a.conversationID,
			ImportDir:      a.importDir,
		}
		if len(a.slugs) == 1 {
			req.Slug = a.slugs[0]
		}
		return []pipeline.Request{req}, nil
	}
	if len(a.slugs) == 0 {
		return nil, fmt.Errorf("%w: pass --url, --report-id, --convo-id, --import-dir or --slug", pipeline.ErrMissingIdentifier)
	}
	reqs := make([]pipeline.Request, 0, len(a.slugs))
	for _, s := range a.slugs {
		reqs = append(reqs, pipeline.Request{Slug: s})
	}
	return reqs, nil
}

func runGenerate(cmd *cobra.Command, g *globalArgs, a generateArgs) error {
	reqs, err := a.requests()
	if err != nil {
		return err
	}

	opts := config.ResolveOptions{
		CLIPolisBaseURL: a.polisBaseURL,
		CLICABundle:     a.caBundle,
		CLIDumpsDir:     a.dumpsDir,
	}
	if cmd.Flags().Changed("seed") {
		opts.CLISeed = strconv.FormatInt(a.seed, 10)
	}
	if cmd.Flags().Changed("min-votes") {
		opts.CLIMinVotes = strconv.Itoa(a.minVotes)
	}

	out := cmd.OutOrStdout()
	r, _, err := g.runner(opts, out)
	if err != nil {
		return err
	}
	if a.noDump {
		r.Config.DumpsDir = ""
	}

	ctx := cmd.Context()
	if len(reqs) == 1 {
		res, err := r.Run(ctx, reqs[0])
		if err != nil {
			return err
		}
		printResult(cmd, res)
		return nil
	}

	batch := r.RunBatch(ctx, reqs)
	for _, it := range batch.Items {
		if it.Err == nil {
			printResult(cmd, it.Result)
		}
	}
	fmt.Fprintf(out, "%d of %d datasets generated\n", len(batch.Items)-batch.Failed(), len(batch.Items))
	return batch.Err()
}

func printResult(cmd *cobra.Command, res *pipeline.Result) {
	out := cmd.OutOrStdout()
	for _, w := range res.Warnings {
		fmt.Fprintf(out, "Warning: %s\n", w)
	}
	fmt.Fprintf(out, "Done: %s (%d participants, %d statements, meta %s)\n",
		res.Slug, len(res.Participants), len(res.Columns), res.Outcome)
}
