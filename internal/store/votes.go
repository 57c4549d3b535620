// Package store writes a dataset's output artifacts: the votes.db SQLite
// file and the JSON files the map viewer loads.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/hurttlocker/polismap/internal/matrix"
	_ "modernc.org/sqlite"
)

// VotesFile is the SQLite artifact name inside a dataset directory.
const VotesFile = "votes.db"

// ctxCheckEvery is how many inserts run between context checks.
const ctxCheckEvery = 500

// votesSchema takes the participant_id and comment_id column types.
const votesSchema = `
CREATE TABLE votes (
	participant_id %s NOT NULL,
	comment_id     %s NOT NULL,
	vote           INTEGER NOT NULL
);
CREATE INDEX idx_participant ON votes(participant_id);
CREATE INDEX idx_comment ON votes(comment_id);
`

// VotesDB is the long-format vote table (participant_id, comment_id, vote).
type VotesDB struct {
	db   *sql.DB
	path string
}

// OpenVotesDB opens (creating if needed) the SQLite file at path.
// ":memory:" is accepted for tests.
func OpenVotesDB(path string) (*VotesDB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent across calls.
	db.SetMaxOpenConns(1)

	// The file is shipped to a static viewer, so no WAL side files.
	pragmas := []string{
		"PRAGMA journal_mode=DELETE",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	return &VotesDB{db: db, path: path}, nil
}

// Close closes the database connection.
func (v *VotesDB) Close() error {
	return v.db.Close()
}

// Path returns the database location.
func (v *VotesDB) Path() string { return v.path }

// Replace drops any previous votes table and writes cells in one
// transaction. It returns the number of rows written.
func (v *VotesDB) Replace(ctx context.Context, cells []matrix.Cell) (int, error) {
	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS votes"); err != nil {
		return 0, fmt.Errorf("dropping votes table: %w", err)
	}
	pidText, sidText := false, false
	for _, c := range cells {
		if _, ok := canonicalInt(c.ParticipantID); !ok {
			pidText = true
		}
		if _, ok := canonicalInt(c.StatementID); !ok {
			sidText = true
		}
	}
	schema := fmt.Sprintf(votesSchema, columnType(pidText), columnType(sidText))
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return 0, fmt.Errorf("creating votes table: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO votes (participant_id, comment_id, vote) VALUES (?, ?, ?)")
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, c := range cells {
		if i > 0 && i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		if _, err := stmt.ExecContext(ctx, sqlID(c.ParticipantID, pidText), sqlID(c.StatementID, sidText), c.Vote); err != nil {
			return 0, fmt.Errorf("inserting vote %s/%s: %w", c.ParticipantID, c.StatementID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing votes: %w", err)
	}
	return len(cells), nil
}

// Count returns the number of rows in the votes table.
func (v *VotesDB) Count(ctx context.Context) (int, error) {
	var n int
	if err := v.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM votes").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting votes: %w", err)
	}
	return n, nil
}

// Votes returns the stored vote for each (participant, comment) pair.
func (v *VotesDB) Votes(ctx context.Context) ([]matrix.Cell, error) {
	rows, err := v.db.QueryContext(ctx, "SELECT participant_id, comment_id, vote FROM votes ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("querying votes: %w", err)
	}
	defer rows.Close()

	var out []matrix.Cell
	for rows.Next() {
		var pid, sid any
		var c matrix.Cell
		if err := rows.Scan(&pid, &sid, &c.Vote); err != nil {
			return nil, fmt.Errorf("scanning vote: %w", err)
		}
		c.ParticipantID = fmt.Sprint(pid)
		c.StatementID = fmt.Sprint(sid)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Indexes lists index names on the votes table.
func (v *VotesDB) Indexes(ctx context.Context) ([]string, error) {
	rows, err := v.db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = 'votes' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing indexes: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// An ID column is INTEGER only when every ID in it is a canonical integer;
// otherwise it is TEXT, since INTEGER affinity would turn "007" into 7.
func columnType(text bool) string {
	if text {
		return "TEXT"
	}
	return "INTEGER"
}

func sqlID(id string, text bool) any {
	if !text {
		if n, ok := canonicalInt(id); ok {
			return n
		}
	}
	return id
}

// canonicalInt parses id only when it is the decimal form FormatInt would
// produce, so "007", "+5" and "-0" stay strings.
func canonicalInt(id string) (int64, bool) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || strconv.FormatInt(n, 10) != id {
		return 0, false
	}
	return n, true
}
