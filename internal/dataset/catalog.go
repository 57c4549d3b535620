package dataset

import (
	"encoding/json"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Entry is one row of the dataset catalog (datasets.json). Keys other
// than slug and label are kept in Extra so hand-curated fields survive a
// rewrite of the catalog.
type Entry struct {
	Slug  string                     `json:"slug"`
	Label string                     `json:"label"`
	Extra map[string]json.RawMessage `json:"-"`
}

// MarshalJSON writes slug and label alongside Extra.
func (e Entry) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Extra)+2)
	for k, v := range e.Extra {
		out[k] = v
	}
	out["slug"] = e.Slug
	out["label"] = e.Label
	return json.Marshal(out)
}

// UnmarshalJSON reads slug and label and keeps the rest in Extra.
func (e *Entry) UnmarshalJSON(b []byte) error {
	type plain Entry
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	delete(all, "slug")
	delete(all, "label")
	if len(all) > 0 {
		p.Extra = all
	} else {
		p.Extra = nil
	}
	*e = Entry(p)
	return nil
}

// MetaStore is the persistence port for meta records.
type MetaStore interface {
	// ReadMeta returns (nil, nil) when no record exists and a
	// *StaleConfigError when one exists but cannot be parsed.
	ReadMeta(slug string) (*Meta, error)
	WriteMeta(slug string, m *Meta) error
}

// Catalog is the persistence port for the dataset listing.
type Catalog interface {
	Entries() ([]Entry, error)
	// AppendEntry adds e unless its slug is already listed and reports
	// whether it was added.
	AppendEntry(e Entry) (bool, error)
}

// Label derives a display label from a slug: separators become spaces and
// every run of letters is title-cased, so digits split words too
// ("my-convo_2024" -> "My Convo 2024", "9usurb2mmh" -> "9Usurb2Mmh").
func Label(slug string) string {
	s := strings.NewReplacer("-", " ", "_", " ").Replace(slug)
	caser := cases.Title(language.Und)
	var b strings.Builder
	start := -1
	for i, r := range s {
		if unicode.IsLetter(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			b.WriteString(caser.String(s[start:i]))
			start = -1
		}
		b.WriteRune(r)
	}
	if start >= 0 {
		b.WriteString(caser.String(s[start:]))
	}
	return b.String()
}

// NewEntry builds the catalog entry for slug.
func NewEntry(slug string) Entry {
	return Entry{Slug: slug, Label: Label(slug)}
}

// appendUnique returns entries plus e when e's slug is new.
func appendUnique(entries []Entry, e Entry) ([]Entry, bool) {
	for _, existing := range entries {
		if existing.Slug == e.Slug {
			return entries, false
		}
	}
	return append(entries, e), true
}
