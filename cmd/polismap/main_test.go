package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hurttlocker/polismap/internal/pipeline"
	"github.com/hurttlocker/polismap/internal/polis"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeDump(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		polis.CommentsFile: `[{"tid": 1, "txt": "one", "mod": 0}, {"tid": 2, "txt": "two", "mod": 0}]`,
		polis.VotesFile: `[
			{"pid": 1, "tid": 1, "vote": 1, "modified": 10},
			{"pid": 1, "tid": 2, "vote": 1, "modified": 11},
			{"pid": 2, "tid": 1, "vote": -1, "modified": 12},
			{"pid": 2, "tid": 2, "vote": 0, "modified": 13},
			{"pid": 3, "tid": 2, "vote": -1, "modified": 14}
		]`,
		polis.ConversationFile: `{"conversation_id": "9cli"}`,
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
	return dir
}

func isolatedFlags(t *testing.T) []string {
	t.Helper()
	tmp := t.TempDir()
	return []string{
		"--config", filepath.Join(tmp, "missing.yaml"),
		"--data-dir", filepath.Join(tmp, "data"),
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, version) {
		t.Fatalf("version output = %q", out)
	}
}

func TestGenerate_FromImportDirThenListed(t *testing.T) {
	flags := isolatedFlags(t)

	args := append([]string{"generate", "--import-dir", writeDump(t), "--slug", "cli-demo", "--min-votes", "1"}, flags...)
	out, err := execute(t, args...)
	if err != nil {
		t.Fatalf("generate: %v\n%s", err, out)
	}
	for _, want := range []string{"Running projection: PCA", "Saved votes.db with 5 rows", "Done: cli-demo (3 participants, 2 statements, meta created)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, append([]string{"datasets"}, flags...)...)
	if err != nil {
		t.Fatalf("datasets: %v", err)
	}
	if !strings.Contains(out, "cli-demo") || !strings.Contains(out, "Cli Demo") {
		t.Fatalf("datasets output = %q", out)
	}
}

func TestGenerate_NothingToDo(t *testing.T) {
	_, err := execute(t, append([]string{"generate"}, isolatedFlags(t)...)...)
	if !errors.Is(err, pipeline.ErrMissingIdentifier) {
		t.Fatalf("expected ErrMissingIdentifier, got %v", err)
	}
}

func TestGenerate_BatchReportsEveryFailure(t *testing.T) {
	out, err := execute(t, append([]string{"generate", "--slug", "a", "--slug", "b"}, isolatedFlags(t)...)...)
	if err == nil {
		t.Fatal("expected batch error")
	}
	if !errors.Is(err, pipeline.ErrMissingIdentifier) {
		t.Fatalf("expected joined ErrMissingIdentifier, got %v", err)
	}
	if !strings.Contains(out, "0 of 2 datasets generated") {
		t.Fatalf("output = %q", out)
	}
}

func TestGenerate_SourceWithSeveralSlugs(t *testing.T) {
	_, err := execute(t, append([]string{"generate", "--convo-id", "x", "--slug", "a", "--slug", "b"}, isolatedFlags(t)...)...)
	if err == nil || !strings.Contains(err.Error(), "only one --slug") {
		t.Fatalf("expected slug error, got %v", err)
	}
}

func TestDatasets_Empty(t *testing.T) {
	out, err := execute(t, append([]string{"datasets"}, isolatedFlags(t)...)...)
	if err != nil {
		t.Fatalf("datasets: %v", err)
	}
	if !strings.Contains(out, "No datasets yet.") {
		t.Fatalf("output = %q", out)
	}
}
