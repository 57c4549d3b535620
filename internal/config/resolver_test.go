package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hurttlocker/polismap/internal/cluster"
	"github.com/hurttlocker/polismap/internal/project"
)

func TestResolveConfig_Precedence_ConfigEnvCLI(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	yaml := `data_dir: ~/maps/from-config
polis:
  base_url: https://polis.example.org
seed: 11
min_votes: 4
projections: [pca, localmap]
hdbscan:
  min_cluster_size: 8
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("POLISMAP_DATA_DIR", "/srv/from-env")
	t.Setenv("POLISMAP_SEED", "22")

	resolved, err := ResolveConfig(ResolveOptions{
		ConfigPath: cfgPath,
		CLISeed:    "33",
	})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}

	if resolved.DataDir.Source != SourceEnv || resolved.DataDir.Value != "/srv/from-env" {
		t.Fatalf("expected data dir from env, got %+v", resolved.DataDir)
	}
	if resolved.Seed.Source != SourceCLI || resolved.Seed.Value != "33" {
		t.Fatalf("expected seed from cli, got %+v", resolved.Seed)
	}
	if resolved.PolisBaseURL.Source != SourceConfig {
		t.Fatalf("expected base url from config, got %s", resolved.PolisBaseURL.Source)
	}
	if resolved.MinVotes.Value != "4" || resolved.MinVotes.From != cfgPath {
		t.Fatalf("expected min_votes 4 from %s, got %+v", cfgPath, resolved.MinVotes)
	}
	if resolved.Clusterers.Source != SourceDefault {
		t.Fatalf("expected default clusterers, got %s", resolved.Clusterers.Source)
	}

	cfg, err := resolved.Pipeline()
	if err != nil {
		t.Fatalf("Pipeline: %v", err)
	}
	if cfg.Seed != 33 || cfg.MinVotes != 4 || cfg.MinClusterSize != 8 || cfg.KMeansK != cluster.DefaultK {
		t.Fatalf("unexpected pipeline config: %+v", cfg)
	}
	if len(cfg.Projections) != 2 || cfg.Projections[1] != project.LocalMAP {
		t.Fatalf("unexpected projections: %v", cfg.Projections)
	}
	if len(cfg.Clusterers) != 2 {
		t.Fatalf("unexpected clusterers: %v", cfg.Clusterers)
	}
}

func TestResolveConfig_DefaultsWithoutFile(t *testing.T) {
	resolved, err := ResolveConfig(ResolveOptions{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml")})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	if resolved.DataDir.Value != DefaultDataDir || resolved.DataDir.Source != SourceDefault {
		t.Fatalf("data dir = %+v", resolved.DataDir)
	}
	if resolved.Seed.Value != "607642" {
		t.Fatalf("seed = %q", resolved.Seed.Value)
	}

	cfg, err := resolved.Pipeline()
	if err != nil {
		t.Fatalf("Pipeline: %v", err)
	}
	if cfg.MonotonicLastVote {
		t.Fatal("monotonic last_vote should default off")
	}
	if len(cfg.Projections) != 3 {
		t.Fatalf("projections = %v", cfg.Projections)
	}
}

func TestPipeline_ReportsEveryBadValue(t *testing.T) {
	resolved, err := ResolveConfig(ResolveOptions{
		ConfigPath:  filepath.Join(t.TempDir(), "missing.yaml"),
		CLISeed:     "abc",
		CLIMinVotes: "0",
	})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	resolved.Projections = ResolvedValue{Value: "pca,tsne", Source: SourceConfig, From: "test.yaml"}

	_, err = resolved.Pipeline()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"seed", "min_votes", "tsne", "test.yaml", "--seed"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestResolveConfig_BadYAML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("seed: [not, a, number"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := ResolveConfig(ResolveOptions{ConfigPath: cfgPath}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadDotEnv(t *testing.T) {
	const key = "POLISMAP_DUMPS_DIR"
	prev, had := os.LookupEnv(key)
	os.Unsetenv(key)
	t.Cleanup(func() {
		if had {
			os.Setenv(key, prev)
		} else {
			os.Unsetenv(key)
		}
	})

	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte(key+"=/tmp/dumps-from-dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := LoadDotEnv(filepath.Join(dir, "absent.env"), envPath); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}

	resolved, err := ResolveConfig(ResolveOptions{ConfigPath: filepath.Join(dir, "missing.yaml")})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	if resolved.DumpsDir.Value != "/tmp/dumps-from-dotenv" || resolved.DumpsDir.Source != SourceEnv {
		t.Fatalf("dumps dir = %+v", resolved.DumpsDir)
	}
}
