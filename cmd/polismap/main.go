package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/hurttlocker/polismap/internal/config"
	polismcp "github.com/hurttlocker/polismap/internal/mcp"
	"github.com/hurttlocker/polismap/internal/pipeline"
)

const version = "0.1.0-dev"

// globalArgs are shared by every subcommand.
type globalArgs struct {
	configPath string
	dataDir    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	defer klog.Flush()

	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var g globalArgs
	root := &cobra.Command{
		Use:           "polismap",
		Short:         "Build opinion maps from Polis conversations",
		Long:          "Project Polis participants into 2-D opinion space, cluster them and write the files the map viewer reads.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&g.configPath, "config", "", "config file (default ~/.polismap/config.yaml)")
	flags.StringVar(&g.dataDir, "data-dir", "", "directory holding datasets.json and datasets/")

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	flags.AddGoFlagSet(klogFlags)

	root.AddCommand(
		newGenerateCmd(&g),
		newDatasetsCmd(&g),
		newMCPCmd(&g),
		newVersionCmd(),
	)
	return root
}

// runner resolves configuration and builds a pipeline runner printing to out.
func (g *globalArgs) runner(opts config.ResolveOptions, out io.Writer) (*pipeline.Runner, config.ResolvedConfig, error) {
	opts.ConfigPath = g.configPath
	opts.CLIDataDir = g.dataDir
	resolved, err := config.ResolveConfig(opts)
	if err != nil {
		return nil, resolved, err
	}
	cfg, err := resolved.Pipeline()
	if err != nil {
		return nil, resolved, err
	}
	return pipeline.New(cfg, resolved.DataDir.Value, out), resolved, nil
}

func newDatasetsCmd(g *globalArgs) *cobra.Command {
	return &cobra.Command{
		Use:   "datasets",
		Short: "List generated datasets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, _, err := g.runner(config.ResolveOptions{}, nil)
			if err != nil {
				return err
			}
			entries, err := r.Catalog.Entries()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No datasets yet.")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(out, "%-30s %s\n", e.Slug, e.Label)
			}
			return nil
		},
	}
}

func newMCPCmd(g *globalArgs) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve polismap tools over MCP (stdio)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// stdout carries the protocol; progress goes to stderr.
			r, resolved, err := g.runner(config.ResolveOptions{}, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			klog.FromContext(cmd.Context()).Info("serving MCP over stdio", "dataDir", resolved.DataDir.Value)
			return server.ServeStdio(polismcp.NewServer(polismcp.ServerConfig{Runner: r, Version: version}))
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "polismap %s\n", version)
		},
	}
}
