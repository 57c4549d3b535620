package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// File names under the data directory.
const (
	MetaFile     = "meta.json"
	CatalogFile  = "datasets.json"
	DatasetsDir  = "datasets"
	dirPerm      = 0o755
	filePerm     = 0o644
	jsonIndent   = "  "
	maxSlugBytes = 200
)

// FileStore keeps meta records and the catalog as JSON files:
//
//	<root>/datasets.json
//	<root>/datasets/<slug>/meta.json
type FileStore struct {
	Root string
}

// NewFileStore returns a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Root: dir}
}

// Dir is the per-slug output directory.
func (s *FileStore) Dir(slug string) string {
	return filepath.Join(s.Root, DatasetsDir, slug)
}

// ValidateSlug rejects slugs that would escape the data directory.
func ValidateSlug(slug string) error {
	switch {
	case strings.TrimSpace(slug) == "":
		return errors.New("slug is empty")
	case len(slug) > maxSlugBytes:
		return fmt.Errorf("slug is longer than %d bytes", maxSlugBytes)
	case slug == "." || slug == "..", strings.ContainsAny(slug, `/\`):
		return fmt.Errorf("slug %q is not a single path element", slug)
	}
	return nil
}

// ReadMeta implements MetaStore.
func (s *FileStore) ReadMeta(slug string) (*Meta, error) {
	if err := ValidateSlug(slug); err != nil {
		return nil, err
	}
	path := filepath.Join(s.Dir(slug), MetaFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &StaleConfigError{Slug: slug, Path: path, Err: err}
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &StaleConfigError{Slug: slug, Path: path, Err: err}
	}
	return &m, nil
}

// WriteMeta implements MetaStore.
func (s *FileStore) WriteMeta(slug string, m *Meta) error {
	if err := ValidateSlug(slug); err != nil {
		return err
	}
	return writeJSON(filepath.Join(s.Dir(slug), MetaFile), m)
}

// Entries implements Catalog. A missing catalog is empty.
func (s *FileStore) Entries() ([]Entry, error) {
	path := filepath.Join(s.Root, CatalogFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", path, err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// AppendEntry implements Catalog.
func (s *FileStore) AppendEntry(e Entry) (bool, error) {
	entries, err := s.Entries()
	if err != nil {
		return false, err
	}
	entries, added := appendUnique(entries, e)
	if !added {
		return false, nil
	}
	if err := writeJSON(filepath.Join(s.Root, CatalogFile), entries); err != nil {
		return false, err
	}
	return true, nil
}

// writeJSON writes v indented, via a temp file renamed into place.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", jsonIndent)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), filePerm); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
