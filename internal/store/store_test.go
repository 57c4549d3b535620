package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hurttlocker/polismap/internal/matrix"
)

func newTestVotesDB(t testing.TB) *VotesDB {
	t.Helper()
	v, err := OpenVotesDB(":memory:")
	if err != nil {
		t.Fatalf("failed to open votes db: %v", err)
	}
	t.Cleanup(func() { v.Close() })
	return v
}

func TestVotesDBReplace(t *testing.T) {
	v := newTestVotesDB(t)
	ctx := context.Background()

	cells := []matrix.Cell{
		{ParticipantID: "1", StatementID: "0", Vote: 1},
		{ParticipantID: "1", StatementID: "2", Vote: -1},
		{ParticipantID: "x9", StatementID: "0", Vote: 0},
	}
	n, err := v.Replace(ctx, cells)
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if n != 3 {
		t.Errorf("rows written = %d, want 3", n)
	}

	got, err := v.Votes(ctx)
	if err != nil {
		t.Fatalf("Votes: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("stored %d rows, want 3", len(got))
	}
	for i := range cells {
		if got[i] != cells[i] {
			t.Errorf("row %d = %+v, want %+v", i, got[i], cells[i])
		}
	}

	indexes, err := v.Indexes(ctx)
	if err != nil {
		t.Fatalf("Indexes: %v", err)
	}
	if strings.Join(indexes, ",") != "idx_comment,idx_participant" {
		t.Errorf("indexes = %v", indexes)
	}
}

func TestVotesDBReplaceDropsPreviousRun(t *testing.T) {
	v := newTestVotesDB(t)
	ctx := context.Background()

	if _, err := v.Replace(ctx, []matrix.Cell{{ParticipantID: "1", StatementID: "1", Vote: 1}, {ParticipantID: "2", StatementID: "1", Vote: 1}}); err != nil {
		t.Fatalf("first Replace: %v", err)
	}
	if _, err := v.Replace(ctx, []matrix.Cell{{ParticipantID: "3", StatementID: "1", Vote: -1}}); err != nil {
		t.Fatalf("second Replace: %v", err)
	}

	n, err := v.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1 after replace", n)
	}
}

func TestOpenVotesDBCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datasets", "demo", VotesFile)
	v, err := OpenVotesDB(path)
	if err != nil {
		t.Fatalf("OpenVotesDB: %v", err)
	}
	defer v.Close()
	if _, err := v.Replace(context.Background(), nil); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("votes.db not created: %v", err)
	}
}

func TestWriteCoordinatesAndLabels(t *testing.T) {
	dir := t.TempDir()
	ids := []string{"2", "10", "anon"}

	if err := WriteCoordinates(dir, "pca", ids, [][]float64{{0.5, -1}, {0, 0}, {1.25, 2}}); err != nil {
		t.Fatalf("WriteCoordinates: %v", err)
	}
	if err := WriteLabels(dir, "pca", "hdbscan", ids, []int{0, -1, 1}); err != nil {
		t.Fatalf("WriteLabels: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "pca.json"))
	if err != nil {
		t.Fatal(err)
	}
	var coords []any
	if err := json.Unmarshal(data, &coords); err != nil {
		t.Fatalf("parse coordinates: %v", err)
	}
	first := coords[0].([]any)
	if first[0] != float64(2) {
		t.Errorf("numeric pid should be a JSON number, got %#v", first[0])
	}
	if xy := first[1].([]any); xy[0] != 0.5 || xy[1] != float64(-1) {
		t.Errorf("xy = %v", xy)
	}

	labelIDs, err := ReadIDs(filepath.Join(dir, LabelsFile("pca", "hdbscan")))
	if err != nil {
		t.Fatalf("ReadIDs labels: %v", err)
	}
	coordIDs, err := ReadIDs(filepath.Join(dir, CoordinatesFile("pca")))
	if err != nil {
		t.Fatalf("ReadIDs coordinates: %v", err)
	}
	if strings.Join(labelIDs, ",") != "2,10,anon" || strings.Join(coordIDs, ",") != "2,10,anon" {
		t.Errorf("ids = %v / %v", labelIDs, coordIDs)
	}
}

func TestWriteLabelsKeepsNonCanonicalIDs(t *testing.T) {
	dir := t.TempDir()
	ids := []string{"007", "+5", "12"}

	if err := WriteLabels(dir, "pca", "kmeans", ids, []int{0, 1, 0}); err != nil {
		t.Fatalf("WriteLabels: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, LabelsFile("pca", "kmeans")))
	if err != nil {
		t.Fatal(err)
	}
	var rows [][]any
	if err := json.Unmarshal(data, &rows); err != nil {
		t.Fatalf("parse labels: %v\n%s", err, data)
	}
	if rows[0][0] != "007" || rows[1][0] != "+5" || rows[2][0] != float64(12) {
		t.Errorf("ids = %#v %#v %#v", rows[0][0], rows[1][0], rows[2][0])
	}

	got, err := ReadIDs(filepath.Join(dir, LabelsFile("pca", "kmeans")))
	if err != nil {
		t.Fatalf("ReadIDs: %v", err)
	}
	if strings.Join(got, ",") != "007,+5,12" {
		t.Errorf("ids = %v", got)
	}
}

func TestVotesDBKeepsNonCanonicalIDs(t *testing.T) {
	v := newTestVotesDB(t)
	ctx := context.Background()

	cells := []matrix.Cell{
		{ParticipantID: "007", StatementID: "3", Vote: 1},
		{ParticipantID: "12", StatementID: "4", Vote: -1},
	}
	if _, err := v.Replace(ctx, cells); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	got, err := v.Votes(ctx)
	if err != nil {
		t.Fatalf("Votes: %v", err)
	}
	for i := range cells {
		if got[i] != cells[i] {
			t.Errorf("row %d = %+v, want %+v", i, got[i], cells[i])
		}
	}

	var pidType, sidType string
	if err := v.db.QueryRowContext(ctx, "SELECT typeof(participant_id), typeof(comment_id) FROM votes LIMIT 1").Scan(&pidType, &sidType); err != nil {
		t.Fatalf("typeof: %v", err)
	}
	if pidType != "text" || sidType != "integer" {
		t.Errorf("column types = %s/%s, want text/integer", pidType, sidType)
	}
}

func TestWriteLabelsLengthMismatch(t *testing.T) {
	if err := WriteLabels(t.TempDir(), "pca", "kmeans", []string{"1"}, nil); err == nil {
		t.Fatal("expected error for mismatched lengths")
	}
}

func TestWriteStatementsKeepsPayload(t *testing.T) {
	dir := t.TempDir()
	raw := json.RawMessage(`[{"tid":0,"txt":"Parks matter","mod":1,"custom":"kept"}]`)
	if err := WriteStatements(dir, raw); err != nil {
		t.Fatalf("WriteStatements: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, StatementsFile))
	if err != nil {
		t.Fatal(err)
	}
	var got []map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got[0]["custom"] != "kept" || got[0]["txt"] != "Parks matter" {
		t.Errorf("payload changed: %s", data)
	}
}
