// Package depstore persists parse results and include dependencies in a
// SQLite database, so dependents of a header can be answered across
// restarts without reparsing the project.
package depstore

import (
	"database/sql"
	"time"

	_ "embed"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Record is one persisted parse result.
type Record struct {
	FilePath      string
	ProjectPartID string
	LastParsed    time.Time
	Intact        bool
}

// Store implements the dependency journal on a SQLite database.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at the provided path, enables
// WAL mode and foreign keys, initializes the schema from the embedded file,
// and returns a Store.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// withTx executes fn within a transaction.
func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// RecordParse upserts the document row and replaces its dependency rows.
func (s *Store) RecordParse(rec Record, deps []string) error {
	return s.withTx(func(tx *sql.Tx) error {
		intact := 0
		if rec.Intact {
			intact = 1
		}
		if _, err := tx.Exec(`
            INSERT INTO documents (file_path, project_part_id, last_parsed, intact)
            VALUES (?, ?, ?, ?)
            ON CONFLICT(file_path, project_part_id)
            DO UPDATE SET last_parsed = excluded.last_parsed, intact = excluded.intact
        `, rec.FilePath, rec.ProjectPartID, rec.LastParsed.Unix(), intact); err != nil {
			return err
		}

		if _, err := tx.Exec(`
            DELETE FROM dependencies WHERE file_path = ? AND project_part_id = ?
        `, rec.FilePath, rec.ProjectPartID); err != nil {
			return err
		}

		for _, dep := range deps {
			if _, err := tx.Exec(`
                INSERT OR IGNORE INTO dependencies (file_path, project_part_id, depends_on)
                VALUES (?, ?, ?)
            `, rec.FilePath, rec.ProjectPartID, dep); err != nil {
				return err
			}
		}
		return nil
	})
}

// Forget removes the document row; its dependency rows cascade away.
func (s *Store) Forget(filePath, projectPartID string) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
            DELETE FROM documents WHERE file_path = ? AND project_part_id = ?
        `, filePath, projectPartID)
		return err
	})
}

// ForgetProjectPart removes every document recorded under the part.
func (s *Store) ForgetProjectPart(projectPartID string) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM documents WHERE project_part_id = ?`, projectPartID)
		return err
	})
}

// getRecords retrieves document records for a query.
func (s *Store) getRecords(query string, args ...interface{}) ([]Record, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var ts int64
		var intact int
		if err := rows.Scan(&rec.FilePath, &rec.ProjectPartID, &ts, &intact); err != nil {
			return nil, err
		}
		rec.LastParsed = time.Unix(ts, 0)
		rec.Intact = intact != 0
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Documents returns every persisted parse result, ordered by path then part.
func (s *Store) Documents() ([]Record, error) {
	return s.getRecords(`
        SELECT file_path, project_part_id, last_parsed, intact
        FROM documents
        ORDER BY file_path, project_part_id
    `)
}

// Dependents returns the documents whose parse depended on the given path.
func (s *Store) Dependents(dependencyPath string) ([]Record, error) {
	return s.getRecords(`
        SELECT d.file_path, d.project_part_id, d.last_parsed, d.intact
        FROM documents d
        JOIN dependencies dep
          ON dep.file_path = d.file_path AND dep.project_part_id = d.project_part_id
        WHERE dep.depends_on = ?
        ORDER BY d.file_path, d.project_part_id
    `, dependencyPath)
}

// Dependencies returns the recorded dependency paths of one document.
func (s *Store) Dependencies(filePath, projectPartID string) ([]string, error) {
	rows, err := s.db.Query(`
        SELECT depends_on FROM dependencies
        WHERE file_path = ? AND project_part_id = ?
        ORDER BY depends_on
    `, filePath, projectPartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deps []string
	for rows.Next() {
		var dep string
		if err := rows.Scan(&dep); err != nil {
			return nil, err
		}
		deps = append(deps, dep)
	}
	return deps, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
