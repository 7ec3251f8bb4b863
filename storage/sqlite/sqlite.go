// Package sqlite implements storage.Repository on an embedded SQLite file
// using the pure-Go modernc.org/sqlite driver.
//
// Writes go through a single-connection writer pool; reads use a small
// reader pool. WAL mode lets the two run side by side.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/jmcleod/cmdbook/storage"
)

const pragmas = "_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"

// Store implements storage.Repository backed by SQLite.
type Store struct {
	writer *sql.DB
	reader *sql.DB
}

var _ storage.Repository = (*Store)(nil)

// Open opens (creating if needed) the SQLite database at path, applies
// migrations and returns a Store.
func Open(path string) (*Store, error) {
	return open(fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&%s", path, pragmas))
}

func open(dsn string) (*Store, error) {
	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)
	if err := writer.Ping(); err != nil {
		writer.Close()
		return nil, fmt.Errorf("ping writer: %w", err)
	}

	if err := RunMigrations(writer); err != nil {
		writer.Close()
		return nil, err
	}

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)
	if err := reader.Ping(); err != nil {
		reader.Close()
		writer.Close()
		return nil, fmt.Errorf("ping reader: %w", err)
	}

	return &Store{writer: writer, reader: reader}, nil
}

// Close closes both connection pools. Returns the first error encountered.
func (s *Store) Close() error {
	var firstErr error
	if err := s.reader.Close(); err != nil {
		firstErr = fmt.Errorf("close reader: %w", err)
	}
	if err := s.writer.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close writer: %w", err)
	}
	return firstErr
}

func (s *Store) Put(ctx context.Context, vaultID, recordType, recordID string, envelope *storage.Envelope) error {
	const query = `INSERT OR REPLACE INTO records (vault_id, record_type, record_id, ver, scheme, nonce, ciphertext, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.writer.ExecContext(ctx, query,
		vaultID, recordType, recordID,
		envelope.Ver, envelope.Scheme, envelope.Nonce, envelope.Ciphertext, int64(envelope.Version))
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", recordType, recordID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, vaultID, recordType, recordID string) (*storage.Envelope, error) {
	const query = `SELECT ver, scheme, nonce, ciphertext, version
		FROM records WHERE vault_id = ? AND record_type = ? AND record_id = ?`
	var (
		env     storage.Envelope
		version int64
	)
	err := s.reader.QueryRowContext(ctx, query, vaultID, recordType, recordID).
		Scan(&env.Ver, &env.Scheme, &env.Nonce, &env.Ciphertext, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.notFoundError(ctx, vaultID, recordType, recordID)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", recordType, recordID, err)
	}
	env.Version = uint64(version)
	return &env, nil
}

func (s *Store) List(ctx context.Context, vaultID, recordType string) ([]string, error) {
	const query = `SELECT record_id FROM records WHERE vault_id = ? AND record_type = ?`
	rows, err := s.reader.QueryContext(ctx, query, vaultID, recordType)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", recordType, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) Delete(ctx context.Context, vaultID, recordType, recordID string) error {
	const query = `DELETE FROM records WHERE vault_id = ? AND record_type = ? AND record_id = ?`
	res, err := s.writer.ExecContext(ctx, query, vaultID, recordType, recordID)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", recordType, recordID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.notFoundError(ctx, vaultID, recordType, recordID)
	}
	return nil
}

func (s *Store) PutCAS(ctx context.Context, vaultID, recordType, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	var current int64
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM records WHERE vault_id = ? AND record_type = ? AND record_id = ?`,
		vaultID, recordType, recordID).Scan(&current)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if expectedVersion != 0 {
			return storage.ErrCASFailed
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO records (vault_id, record_type, record_id, ver, scheme, nonce, ciphertext, version)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			vaultID, recordType, recordID,
			envelope.Ver, envelope.Scheme, envelope.Nonce, envelope.Ciphertext, int64(envelope.Version))
	case err != nil:
		return err
	default:
		if expectedVersion == 0 || uint64(current) != expectedVersion {
			return storage.ErrCASFailed
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE records SET ver = ?, scheme = ?, nonce = ?, ciphertext = ?, version = ?
			 WHERE vault_id = ? AND record_type = ? AND record_id = ?`,
			envelope.Ver, envelope.Scheme, envelope.Nonce, envelope.Ciphertext, int64(envelope.Version),
			vaultID, recordType, recordID)
	}
	if err != nil {
		return fmt.Errorf("cas %s/%s: %w", recordType, recordID, err)
	}
	return tx.Commit()
}

func (s *Store) notFoundError(ctx context.Context, vaultID, recordType, recordID string) error {
	var exists bool
	_ = s.reader.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM records WHERE vault_id = ?)`, vaultID).Scan(&exists)
	if !exists {
		return fmt.Errorf("%s: %w", vaultID, storage.ErrVaultNotFound)
	}
	return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
}
