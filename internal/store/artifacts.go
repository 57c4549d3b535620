package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Artifact file names inside a dataset directory.
const (
	StatementsFile = "statements.json"
	LabelsDir      = "labels"
)

// CoordinatesFile is the per-projection coordinate file, e.g. "pca.json".
func CoordinatesFile(projection string) string {
	return projection + ".json"
}

// LabelsFile is the per-(projection, clusterer) label file, relative to the
// dataset directory, e.g. "labels/pca-kmeans.json".
func LabelsFile(projection, clusterer string) string {
	return filepath.Join(LabelsDir, projection+"-"+clusterer+".json")
}

// WriteStatements writes the raw statement payload unmodified apart from
// indentation.
func WriteStatements(dir string, raw json.RawMessage) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("[]")
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("indenting statements: %w", err)
	}
	buf.WriteByte('\n')
	return writeFile(filepath.Join(dir, StatementsFile), buf.Bytes())
}

// WriteCoordinates writes [[pid, [x, y]], ...] for one projection.
func WriteCoordinates(dir, projection string, ids []string, coords [][]float64) error {
	if len(ids) != len(coords) {
		return fmt.Errorf("%s: %d ids for %d coordinates", projection, len(ids), len(coords))
	}
	rows := make([][2]any, len(ids))
	for i, id := range ids {
		rows[i] = [2]any{participantID(id), coords[i]}
	}
	return writeJSON(filepath.Join(dir, CoordinatesFile(projection)), rows)
}

// WriteLabels writes [[pid, label], ...] for one (projection, clusterer)
// pair.
func WriteLabels(dir, projection, clusterer string, ids []string, labels []int) error {
	if len(ids) != len(labels) {
		return fmt.Errorf("%s-%s: %d ids for %d labels", projection, clusterer, len(ids), len(labels))
	}
	rows := make([][2]any, len(ids))
	for i, id := range ids {
		rows[i] = [2]any{participantID(id), labels[i]}
	}
	return writeJSON(filepath.Join(dir, LabelsFile(projection, clusterer)), rows)
}

// ReadIDs returns the participant IDs, in order, of a coordinate or label
// file.
func ReadIDs(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rows [][2]json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		var s string
		if err := json.Unmarshal(r[0], &s); err == nil {
			out[i] = s
			continue
		}
		out[i] = string(r[0])
	}
	return out, nil
}

// participantID keeps canonical integer IDs numeric in the JSON output.
func participantID(id string) json.RawMessage {
	if _, ok := canonicalInt(id); ok {
		return json.RawMessage(id)
	}
	b, _ := json.Marshal(id)
	return b
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	return writeFile(path, append(data, '\n'))
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
