// Copyright 2018-2026 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

package recordstore

import (
	"context"
	"database/sql"
	"time"

	// Registers the "sqlite3" driver with database/sql.
	_ "github.com/mattn/go-sqlite3"

	"github.com/cs3org/revsync/pkg/syncerrors"
)

// SQLite is a Store backed by a single SQLite database file, using plain
// database/sql the way pkg/share/manager/sql does (raw SQL, no ORM).
type SQLite struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS records (
	doc_id     TEXT PRIMARY KEY,
	version    BLOB,
	body       BLOB,
	extras     BLOB,
	sequence   INTEGER NOT NULL,
	expires_at INTEGER
);
`

// OpenSQLite opens (creating if necessary) a SQLite-backed Store at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, syncerrors.Wrap(syncerrors.DomainSQLite, 0, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, syncerrors.Wrap(syncerrors.DomainSQLite, 0, err)
	}
	return &SQLite{db: db}, nil
}

// Get implements Store.
func (s *SQLite) Get(ctx context.Context, docID string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT version, body, extras, sequence, expires_at FROM records WHERE doc_id = ?`, docID)

	var rec Record
	rec.DocID = docID
	var expiresAt sql.NullInt64
	if err := row.Scan(&rec.Version, &rec.Body, &rec.Extras, &rec.Sequence, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return Record{}, syncerrors.NotFound(docID)
		}
		return Record{}, syncerrors.Wrap(syncerrors.DomainSQLite, 0, err)
	}
	if expiresAt.Valid {
		t := time.Unix(expiresAt.Int64, 0).UTC()
		rec.ExpiresAt = &t
	}
	return rec, nil
}

// Put implements Store, compare-and-swapping against expectedSequence the
// same way docrecord.Record.Save expects: a mismatch between
// expectedSequence and the row's current sequence (0 meaning "no row yet")
// is a Conflict, not a silent overwrite.
func (s *SQLite) Put(ctx context.Context, rec Record, expectedSequence uint64) error {
	var expires sql.NullInt64
	if rec.ExpiresAt != nil {
		expires = sql.NullInt64{Int64: rec.ExpiresAt.Unix(), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncerrors.Wrap(syncerrors.DomainSQLite, 0, err)
	}
	defer tx.Rollback()

	var currentSeq uint64
	row := tx.QueryRowContext(ctx, `SELECT sequence FROM records WHERE doc_id = ?`, rec.DocID)
	switch err := row.Scan(&currentSeq); {
	case err == sql.ErrNoRows:
		if expectedSequence != 0 {
			return syncerrors.Conflict(rec.DocID)
		}
	case err != nil:
		return syncerrors.Wrap(syncerrors.DomainSQLite, 0, err)
	default:
		if currentSeq != expectedSequence {
			return syncerrors.Conflict(rec.DocID)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO records (doc_id, version, body, extras, sequence, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			version = excluded.version,
			body = excluded.body,
			extras = excluded.extras,
			sequence = excluded.sequence,
			expires_at = excluded.expires_at
	`, rec.DocID, rec.Version, rec.Body, rec.Extras, rec.Sequence, expires); err != nil {
		return syncerrors.Wrap(syncerrors.DomainSQLite, 0, err)
	}
	return tx.Commit()
}

// Enumerate implements Store.
func (s *SQLite) Enumerate(ctx context.Context, sinceSequence uint64, limit int) ([]Record, error) {
	query := `SELECT doc_id, version, body, extras, sequence, expires_at FROM records
		WHERE sequence > ? ORDER BY sequence ASC`
	args := []interface{}{sinceSequence}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, syncerrors.Wrap(syncerrors.DomainSQLite, 0, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var expiresAt sql.NullInt64
		if err := rows.Scan(&rec.DocID, &rec.Version, &rec.Body, &rec.Extras, &rec.Sequence, &expiresAt); err != nil {
			return nil, syncerrors.Wrap(syncerrors.DomainSQLite, 0, err)
		}
		if expiresAt.Valid {
			t := time.Unix(expiresAt.Int64, 0).UTC()
			rec.ExpiresAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete implements Store.
func (s *SQLite) Delete(ctx context.Context, docID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE doc_id = ?`, docID)
	if err != nil {
		return syncerrors.Wrap(syncerrors.DomainSQLite, 0, err)
	}
	return nil
}

// EnumerateExpired implements Store.
func (s *SQLite) EnumerateExpired(ctx context.Context, asOf time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id FROM records WHERE expires_at IS NOT NULL AND expires_at < ?`, asOf.Unix())
	if err != nil {
		return nil, syncerrors.Wrap(syncerrors.DomainSQLite, 0, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, syncerrors.Wrap(syncerrors.DomainSQLite, 0, err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// HighestSequence implements Store.
func (s *SQLite) HighestSequence(ctx context.Context) (uint64, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM records`)
	var max uint64
	if err := row.Scan(&max); err != nil {
		return 0, syncerrors.Wrap(syncerrors.DomainSQLite, 0, err)
	}
	return max, nil
}

// Close implements Store.
func (s *SQLite) Close() error { return s.db.Close() }
