package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hurttlocker/polismap/internal/cluster"
	"github.com/hurttlocker/polismap/internal/matrix"
	"github.com/hurttlocker/polismap/internal/pipeline"
	"github.com/hurttlocker/polismap/internal/polis"
	"github.com/hurttlocker/polismap/internal/project"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

// Built-in defaults.
const (
	DefaultDataDir  = "data"
	DefaultDumpsDir = ".dumps"
)

type ResolveOptions struct {
	ConfigPath      string
	CLIDataDir      string
	CLIDumpsDir     string
	CLIPolisBaseURL string
	CLICABundle     string
	CLISeed         string
	CLIMinVotes     string
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	DataDir      ResolvedValue `json:"data_dir"`
	DumpsDir     ResolvedValue `json:"dumps_dir"`
	PolisBaseURL ResolvedValue `json:"polis_base_url"`
	CABundle     ResolvedValue `json:"ca_bundle"`

	Seed              ResolvedValue `json:"seed"`
	MinVotes          ResolvedValue `json:"min_votes"`
	Projections       ResolvedValue `json:"projections"`
	Clusterers        ResolvedValue `json:"clusterers"`
	KMeansK           ResolvedValue `json:"kmeans_default_k"`
	MinClusterSize    ResolvedValue `json:"hdbscan_min_cluster_size"`
	MonotonicLastVote ResolvedValue `json:"monotonic_last_vote"`
}

type fileConfig struct {
	DataDir  string `yaml:"data_dir"`
	DumpsDir string `yaml:"dumps_dir"`
	Polis    struct {
		BaseURL  string `yaml:"base_url"`
		CABundle string `yaml:"ca_bundle"`
	} `yaml:"polis"`
	Seed        *int64   `yaml:"seed"`
	MinVotes    *int     `yaml:"min_votes"`
	Projections []string `yaml:"projections"`
	Clusterers  []string `yaml:"clusterers"`
	KMeans      struct {
		DefaultK *int `yaml:"default_k"`
	} `yaml:"kmeans"`
	HDBSCAN struct {
		MinClusterSize *int `yaml:"min_cluster_size"`
	} `yaml:"hdbscan"`
	MonotonicLastVote *bool `yaml:"monotonic_last_vote"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".polismap", "config.yaml")
}

// LoadDotEnv loads KEY=VALUE files into the environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{ConfigPath: path}
	setDefault(&out.DataDir, DefaultDataDir)
	setDefault(&out.DumpsDir, DefaultDumpsDir)
	setDefault(&out.PolisBaseURL, polis.DefaultBaseURL)
	setDefault(&out.Seed, strconv.FormatInt(project.DefaultSeed, 10))
	setDefault(&out.MinVotes, strconv.Itoa(matrix.DefaultMinVotes))
	setDefault(&out.Projections, joinNames(project.Algorithms()))
	setDefault(&out.Clusterers, joinNames(cluster.Algorithms()))
	setDefault(&out.KMeansK, strconv.Itoa(cluster.DefaultK))
	setDefault(&out.MinClusterSize, strconv.Itoa(cluster.DefaultMinClusterSize))
	setDefault(&out.MonotonicLastVote, "false")

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.DataDir, cfg.DataDir, SourceConfig, path)
		apply(&out.DumpsDir, cfg.DumpsDir, SourceConfig, path)
		apply(&out.PolisBaseURL, cfg.Polis.BaseURL, SourceConfig, path)
		apply(&out.CABundle, cfg.Polis.CABundle, SourceConfig, path)
		if cfg.Seed != nil {
			apply(&out.Seed, strconv.FormatInt(*cfg.Seed, 10), SourceConfig, path)
		}
		if cfg.MinVotes != nil {
			apply(&out.MinVotes, strconv.Itoa(*cfg.MinVotes), SourceConfig, path)
		}
		apply(&out.Projections, strings.Join(cfg.Projections, ","), SourceConfig, path)
		apply(&out.Clusterers, strings.Join(cfg.Clusterers, ","), SourceConfig, path)
		if cfg.KMeans.DefaultK != nil {
			apply(&out.KMeansK, strconv.Itoa(*cfg.KMeans.DefaultK), SourceConfig, path)
		}
		if cfg.HDBSCAN.MinClusterSize != nil {
			apply(&out.MinClusterSize, strconv.Itoa(*cfg.HDBSCAN.MinClusterSize), SourceConfig, path)
		}
		if cfg.MonotonicLastVote != nil {
			apply(&out.MonotonicLastVote, strconv.FormatBool(*cfg.MonotonicLastVote), SourceConfig, path)
		}
	}

	applyEnv(&out.DataDir, "POLISMAP_DATA_DIR")
	applyEnv(&out.DumpsDir, "POLISMAP_DUMPS_DIR")
	applyEnv(&out.PolisBaseURL, "POLISMAP_POLIS_URL")
	applyEnv(&out.CABundle, "POLISMAP_CA_BUNDLE")
	applyEnv(&out.Seed, "POLISMAP_SEED")
	applyEnv(&out.MinVotes, "POLISMAP_MIN_VOTES")

	apply(&out.DataDir, opts.CLIDataDir, SourceCLI, "--data-dir")
	apply(&out.DumpsDir, opts.CLIDumpsDir, SourceCLI, "--dumps-dir")
	apply(&out.PolisBaseURL, opts.CLIPolisBaseURL, SourceCLI, "--polis-base-url")
	apply(&out.CABundle, opts.CLICABundle, SourceCLI, "--ca-bundle")
	apply(&out.Seed, opts.CLISeed, SourceCLI, "--seed")
	apply(&out.MinVotes, opts.CLIMinVotes, SourceCLI, "--min-votes")

	out.DataDir.Value = expandUserPath(out.DataDir.Value)
	out.DumpsDir.Value = expandUserPath(out.DumpsDir.Value)
	if out.CABundle.Value != "" {
		out.CABundle.Value = expandUserPath(out.CABundle.Value)
	}

	return out, nil
}

// Pipeline converts the resolved strings into a pipeline configuration.
// Every invalid value is reported, naming where it came from.
func (r ResolvedConfig) Pipeline() (pipeline.Config, error) {
	var errs []error
	cfg := pipeline.Config{
		DumpsDir: r.DumpsDir.Value,
		BaseURL:  r.PolisBaseURL.Value,
		CABundle: r.CABundle.Value,
	}

	seed, err := strconv.ParseInt(r.Seed.Value, 10, 64)
	if err != nil {
		errs = append(errs, invalid("seed", r.Seed, err))
	}
	cfg.Seed = seed
	cfg.MinVotes = parsePositive("min_votes", r.MinVotes, &errs)
	cfg.KMeansK = parsePositive("kmeans_default_k", r.KMeansK, &errs)
	cfg.MinClusterSize = parsePositive("hdbscan_min_cluster_size", r.MinClusterSize, &errs)

	if cfg.MonotonicLastVote, err = strconv.ParseBool(r.MonotonicLastVote.Value); err != nil {
		errs = append(errs, invalid("monotonic_last_vote", r.MonotonicLastVote, err))
	}

	for _, name := range splitNames(r.Projections.Value) {
		a, err := project.Parse(name)
		if err != nil {
			errs = append(errs, invalid("projections", r.Projections, err))
			continue
		}
		cfg.Projections = append(cfg.Projections, a)
	}
	for _, name := range splitNames(r.Clusterers.Value) {
		a, err := cluster.Parse(name)
		if err != nil {
			errs = append(errs, invalid("clusterers", r.Clusterers, err))
			continue
		}
		cfg.Clusterers = append(cfg.Clusterers, a)
	}

	return cfg, errors.Join(errs...)
}

func parsePositive(key string, v ResolvedValue, errs *[]error) int {
	n, err := strconv.Atoi(v.Value)
	if err == nil && n <= 0 {
		err = errors.New("must be positive")
	}
	if err != nil {
		*errs = append(*errs, invalid(key, v, err))
		return 0
	}
	return n
}

func invalid(key string, v ResolvedValue, err error) error {
	from := string(v.Source)
	if v.From != "" {
		from += " " + v.From
	}
	return fmt.Errorf("invalid %s %q (from %s): %w", key, v.Value, from, err)
}

func splitNames(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func joinNames[T ~string](names []T) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = string(n)
	}
	return strings.Join(parts, ",")
}

func setDefault(dst *ResolvedValue, v string) {
	*dst = ResolvedValue{Value: v, Source: SourceDefault, From: "built-in default"}
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
