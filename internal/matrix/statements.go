package matrix

import "github.com/hurttlocker/polismap/internal/polis"

// moderatedOut is the platform's "removed by a moderator" flag value.
const moderatedOut = -1

// Classes partitions statement IDs. The three sets are disjoint.
type Classes struct {
	Votable      []string
	ModeratedOut []string
	Meta         []string
}

// Excluded returns the IDs that never count as votable.
func (c Classes) Excluded() []string {
	out := make([]string, 0, len(c.ModeratedOut)+len(c.Meta))
	out = append(out, c.ModeratedOut...)
	return append(out, c.Meta...)
}

// Classify sorts statements into votable, moderated-out and meta. A
// statement both moderated out and meta counts as moderated out.
func Classify(statements []polis.Statement) Classes {
	var c Classes
	for _, s := range statements {
		switch {
		case s.Moderated == moderatedOut:
			c.ModeratedOut = append(c.ModeratedOut, s.ID)
		case s.IsMeta:
			c.Meta = append(c.Meta, s.ID)
		default:
			c.Votable = append(c.Votable, s.ID)
		}
	}
	SortIDs(c.Votable)
	SortIDs(c.ModeratedOut)
	SortIDs(c.Meta)
	return c
}
