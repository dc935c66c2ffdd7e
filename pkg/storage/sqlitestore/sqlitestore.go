/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/trustbloc/edge-core/pkg/log"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/trustbloc/didchain/pkg/storage"
)

const logModuleName = "chain-store-sqlite"

var logger = log.New(logModuleName)

const schema = `
CREATE TABLE IF NOT EXISTS heads (
  identifier  TEXT    PRIMARY KEY,
  version     INTEGER NOT NULL,
  private_key BLOB    NOT NULL
);
CREATE TABLE IF NOT EXISTS documents (
  identifier TEXT    NOT NULL,
  version    INTEGER NOT NULL,
  body       BLOB    NOT NULL,
  PRIMARY KEY (identifier, version)
);
CREATE TABLE IF NOT EXISTS proofs (
  identifier TEXT    NOT NULL,
  version    INTEGER NOT NULL,
  token      TEXT    NOT NULL,
  PRIMARY KEY (identifier, version)
);
`

// Store is a storage.ChainStore over SQLite. Every extension is written by one serializable transaction.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at dsn and ensures the schema.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// PRAGMAs are per connection.
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err = db.Exec(pragma); err != nil {
			_ = db.Close()

			return nil, fmt.Errorf("failed to set %s: %w", pragma, err)
		}
	}

	if _, err = db.Exec(schema); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Head returns the committed head of identifier.
func (s *Store) Head(ctx context.Context, identifier string) (*storage.Head, error) {
	return head(ctx, s.db, identifier)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func head(ctx context.Context, q queryRower, identifier string) (*storage.Head, error) {
	h := &storage.Head{}

	err := q.QueryRowContext(ctx, `SELECT version, private_key FROM heads WHERE identifier = ?`, identifier).
		Scan(&h.Version, &h.PrivateKey)
	if errors.Is(err, sql.ErrNoRows) {
		return &storage.Head{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read head of %s: %w", identifier, err)
	}

	return h, nil
}

// Commit appends ext in a single serializable transaction.
func (s *Store) Commit(ctx context.Context, ext *storage.Extension) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	current, err := head(ctx, tx, ext.Identifier)
	if err != nil {
		return err
	}

	if ext.Version != current.Version+1 {
		return fmt.Errorf("%w: head of %s is %d, got version %d", storage.ErrConflict,
			ext.Identifier, current.Version, ext.Version)
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO documents(identifier, version, body) VALUES(?, ?, ?)`,
		ext.Identifier, ext.Version, ext.Document); err != nil {
		return fmt.Errorf("failed to store version %d of %s: %w", ext.Version, ext.Identifier, err)
	}

	if ext.Proof != "" {
		if _, err = tx.ExecContext(ctx, `INSERT INTO proofs(identifier, version, token) VALUES(?, ?, ?)`,
			ext.Identifier, ext.Version, ext.Proof); err != nil {
			return fmt.Errorf("failed to store proof %d of %s: %w", ext.Version, ext.Identifier, err)
		}
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO heads(identifier, version, private_key) VALUES(?, ?, ?)
		 ON CONFLICT(identifier) DO UPDATE SET version=excluded.version, private_key=excluded.private_key`,
		ext.Identifier, ext.Version, ext.PrivateKey); err != nil {
		return fmt.Errorf("failed to move head of %s to %d: %w", ext.Identifier, ext.Version, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit version %d of %s: %w", ext.Version, ext.Identifier, err)
	}

	logger.Debugf("Committed version %d of %s", ext.Version, ext.Identifier)

	return nil
}

// Document returns a committed document version.
func (s *Store) Document(ctx context.Context, identifier string, version int) ([]byte, error) {
	var body []byte

	err := s.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE identifier = ? AND version = ?`,
		identifier, version).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrValueNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read version %d of %s: %w", version, identifier, err)
	}

	return body, nil
}

// Proofs returns the committed proofs of identifier.
func (s *Store) Proofs(ctx context.Context, identifier string) (map[int]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT version, token FROM proofs WHERE identifier = ? ORDER BY version ASC`, identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to read proofs of %s: %w", identifier, err)
	}

	defer func() { _ = rows.Close() }()

	proofs := make(map[int]string)

	for rows.Next() {
		var (
			version int
			token   string
		)

		if err = rows.Scan(&version, &token); err != nil {
			return nil, fmt.Errorf("failed to read proofs of %s: %w", identifier, err)
		}

		proofs[version] = token
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read proofs of %s: %w", identifier, err)
	}

	return proofs, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
