package dataset

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hurttlocker/polismap/internal/polis"
)

func TestMergeCreatesDefaults(t *testing.T) {
	m, outcome := Merge(nil, Observation{ConversationURL: "https://pol.is/2abc", LastVote: 1700000000000}, MergeOptions{})
	if outcome != Created {
		t.Fatalf("outcome = %q, want %q", outcome, Created)
	}
	if !m.FlipX || !m.FlipY {
		t.Errorf("flips = %v/%v, want true/true", m.FlipX, m.FlipY)
	}
	if m.AboutURL != nil || m.ReportURL != nil || m.NNeighbors != nil {
		t.Errorf("expected null about_url, report_url and n_neighbors, got %+v", m)
	}
	if m.ConversationURL == nil || *m.ConversationURL != "https://pol.is/2abc" {
		t.Errorf("conversation_url = %v", m.ConversationURL)
	}
	if m.LastVote == nil || *m.LastVote != 1700000000000 {
		t.Errorf("last_vote = %v", m.LastVote)
	}

	bare, _ := Merge(nil, Observation{}, MergeOptions{})
	if bare.LastVote != nil || bare.ConversationURL != nil {
		t.Errorf("nothing observed should leave nulls, got %+v", bare)
	}
}

func TestMergePreservesExistingOutsideUpdateMode(t *testing.T) {
	prior := &Meta{ConversationURL: ptr("https://old/1"), LastVote: ptr(int64(5)), FlipX: false, FlipY: true}
	m, outcome := Merge(prior, Observation{ConversationURL: "https://new/1", LastVote: 9}, MergeOptions{})
	if outcome != Preserved {
		t.Fatalf("outcome = %q, want %q", outcome, Preserved)
	}
	if m != prior {
		t.Error("preserved merge should return the prior record untouched")
	}
	if *prior.ConversationURL != "https://old/1" || *prior.LastVote != 5 {
		t.Errorf("prior mutated: %+v", prior)
	}
}

func TestMergeUpdateKeepsManualFields(t *testing.T) {
	prior := &Meta{
		AboutURL:        ptr("https://example.org/about"),
		ConversationURL: ptr("https://pol.is/old"),
		ReportURL:       ptr("https://pol.is/report/r1"),
		LastVote:        ptr(int64(100)),
		NNeighbors:      ptr(15),
		FlipX:           false,
		FlipY:           true,
		Extra:           map[string]json.RawMessage{"notes": json.RawMessage(`"curated"`)},
	}
	m, outcome := Merge(prior, Observation{ConversationURL: "https://pol.is/new", LastVote: 200}, MergeOptions{Update: true})
	if outcome != Updated {
		t.Fatalf("outcome = %q, want %q", outcome, Updated)
	}
	if m.Neighbors() != 15 {
		t.Errorf("n_neighbors = %d, want 15", m.Neighbors())
	}
	if m.FlipX || !m.FlipY {
		t.Errorf("flips changed: %v/%v", m.FlipX, m.FlipY)
	}
	if *m.AboutURL != "https://example.org/about" {
		t.Errorf("about_url = %q", *m.AboutURL)
	}
	if *m.ConversationURL != "https://pol.is/new" {
		t.Errorf("conversation_url = %q", *m.ConversationURL)
	}
	if *m.ReportURL != "https://pol.is/report/r1" {
		t.Errorf("report_url should survive an empty observation, got %q", *m.ReportURL)
	}
	if *m.LastVote != 200 {
		t.Errorf("last_vote = %d, want 200", *m.LastVote)
	}
	if string(m.Extra["notes"]) != `"curated"` {
		t.Errorf("extra keys lost: %v", m.Extra)
	}
	if *prior.LastVote != 100 || *prior.ConversationURL != "https://pol.is/old" {
		t.Error("prior record was mutated")
	}
}

func TestMergeLastVoteOverwritesByDefault(t *testing.T) {
	prior := &Meta{LastVote: ptr(int64(500)), FlipX: true, FlipY: true}

	m, _ := Merge(prior, Observation{LastVote: 300}, MergeOptions{Update: true})
	if *m.LastVote != 300 {
		t.Errorf("last_vote = %d, want older value 300 to overwrite", *m.LastVote)
	}

	m, _ = Merge(prior, Observation{LastVote: 300}, MergeOptions{Update: true, Monotonic: true})
	if *m.LastVote != 500 {
		t.Errorf("monotonic last_vote = %d, want 500", *m.LastVote)
	}

	m, _ = Merge(prior, Observation{LastVote: 700}, MergeOptions{Update: true, Monotonic: true})
	if *m.LastVote != 700 {
		t.Errorf("monotonic last_vote = %d, want 700", *m.LastVote)
	}
}

func TestResolveLastVote(t *testing.T) {
	votes := []polis.VoteEvent{{ModifiedAt: 10}, {ModifiedAt: 30}, {ModifiedAt: 20}}
	snap := &polis.MathSnapshot{LastVoteTimestamp: polis.Num("99")}
	if got := ResolveLastVote(snap, votes); got != 99 {
		t.Errorf("with snapshot = %d, want 99", got)
	}
	if got := ResolveLastVote(nil, votes); got != 30 {
		t.Errorf("without snapshot = %d, want 30", got)
	}
	if got := ResolveLastVote(&polis.MathSnapshot{}, nil); got != 0 {
		t.Errorf("nothing = %d, want 0", got)
	}
}

func TestMetaJSONRoundTripKeepsUnknownKeys(t *testing.T) {
	raw := `{"about_url": null, "conversation_url": "https://pol.is/3x", "report_url": null, "n_neighbors": 15, "theme": {"color": "red"}}`
	var m Meta
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !m.FlipX || !m.FlipY {
		t.Error("absent flips should default to true")
	}
	if m.Neighbors() != 15 {
		t.Errorf("n_neighbors = %d", m.Neighbors())
	}

	out, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back map[string]any
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("re-parse: %v", err)
	}
	theme, ok := back["theme"].(map[string]any)
	if !ok || theme["color"] != "red" {
		t.Errorf("theme lost: %s", out)
	}
	if v, present := back["last_vote"]; !present || v != nil {
		t.Errorf("last_vote should be written as null: %s", out)
	}
}

func TestLabel(t *testing.T) {
	tests := map[string]string{
		"bowling-green":     "Bowling Green",
		"new_zealand-BIG":   "New Zealand Big",
		"vtaiwan-uber-2015": "Vtaiwan Uber 2015",
		"single":            "Single",
		"9usurb2mmh":        "9Usurb2Mmh",
		"don't-stop":        "Don'T Stop",
	}
	for slug, want := range tests {
		if got := Label(slug); got != want {
			t.Errorf("Label(%q) = %q, want %q", slug, got, want)
		}
	}
}

func TestFileStoreMetaLifecycle(t *testing.T) {
	s := NewFileStore(t.TempDir())

	m, err := s.ReadMeta("demo")
	if err != nil || m != nil {
		t.Fatalf("ReadMeta on empty store = %v, %v; want nil, nil", m, err)
	}

	created, _ := Merge(nil, Observation{ConversationURL: "https://pol.is/1"}, MergeOptions{})
	created.NNeighbors = ptr(15)
	if err := s.WriteMeta("demo", created); err != nil {
		t.Fatalf("WriteMeta: %v", err)
	}

	got, err := s.ReadMeta("demo")
	if err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	if got.Neighbors() != 15 || *got.ConversationURL != "https://pol.is/1" {
		t.Errorf("round trip = %+v", got)
	}
	if _, err := os.Stat(filepath.Join(s.Root, DatasetsDir, "demo", MetaFile)); err != nil {
		t.Errorf("meta.json not at expected path: %v", err)
	}
}

func TestFileStoreCorruptMetaIsStale(t *testing.T) {
	s := NewFileStore(t.TempDir())
	dir := s.Dir("broken")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, MetaFile), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := s.ReadMeta("broken")
	if !IsStale(err) {
		t.Fatalf("err = %v, want StaleConfigError", err)
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error should name the slug: %v", err)
	}
}

func TestFileStoreCatalogAppendsOnce(t *testing.T) {
	s := NewFileStore(t.TempDir())

	for i := 0; i < 3; i++ {
		added, err := s.AppendEntry(NewEntry("bowling-green"))
		if err != nil {
			t.Fatalf("AppendEntry #%d: %v", i, err)
		}
		if added != (i == 0) {
			t.Errorf("AppendEntry #%d added = %v", i, added)
		}
	}
	if _, err := s.AppendEntry(NewEntry("other")); err != nil {
		t.Fatal(err)
	}

	entries, err := s.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	want := []Entry{{Slug: "bowling-green", Label: "Bowling Green"}, {Slug: "other", Label: "Other"}}
	if len(entries) != len(want) {
		t.Fatalf("entries = %+v, want %+v", entries, want)
	}
	for i := range want {
		if entries[i].Slug != want[i].Slug || entries[i].Label != want[i].Label || entries[i].Extra != nil {
			t.Errorf("entries[%d] = %+v, want %+v", i, entries[i], want[i])
		}
	}
}

func TestFileStoreCatalogKeepsCuratedKeys(t *testing.T) {
	root := t.TempDir()
	seed := `[{"slug": "a", "label": "Curated A", "description": "hand written", "hidden": true}]`
	if err := os.WriteFile(filepath.Join(root, CatalogFile), []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewFileStore(root)

	if _, err := s.AppendEntry(NewEntry("b")); err != nil {
		t.Fatalf("AppendEntry: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, CatalogFile))
	if err != nil {
		t.Fatal(err)
	}
	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("parsing catalog: %v\n%s", err, data)
	}
	if len(raw) != 2 {
		t.Fatalf("catalog = %s", data)
	}
	if raw[0]["label"] != "Curated A" || raw[0]["description"] != "hand written" || raw[0]["hidden"] != true {
		t.Errorf("curated entry changed: %v", raw[0])
	}
	if raw[1]["slug"] != "b" || raw[1]["label"] != "B" || len(raw[1]) != 2 {
		t.Errorf("new entry = %v", raw[1])
	}
}

func TestValidateSlug(t *testing.T) {
	for _, bad := range []string{"", "  ", "..", "a/b", `a\b`} {
		if err := ValidateSlug(bad); err == nil {
			t.Errorf("ValidateSlug(%q) = nil, want error", bad)
		}
	}
	if err := ValidateSlug("ok-slug"); err != nil {
		t.Errorf("ValidateSlug(ok-slug) = %v", err)
	}
}
