package statestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cheolwanpark/meows-archive/collector/internal/crypto"
)

// ErrCredentialNotFound is returned when no credential row exists for a
// service name.
var ErrCredentialNotFound = errors.New("credential not found")

// SaveCredential encrypts value with the engine's AES-GCM key (see
// internal/crypto) and upserts it under service. Intended for the Reddit
// OAuth token the out-of-scope fetcher needs to authenticate; the token
// acquisition flow itself is external, but its at-rest storage is part of
// C2's schema.
func (s *Store) SaveCredential(ctx context.Context, service, value string) error {
	encrypted, err := crypto.Encrypt(value)
	if err != nil {
		return fmt.Errorf("encrypt credential: %w", err)
	}
	return s.withConn(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO credentials (service, value_encrypted, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(service) DO UPDATE SET
				value_encrypted=excluded.value_encrypted, updated_at=excluded.updated_at
		`, service, encrypted, isoString(time.Now().UTC()))
		return err
	})
}

// GetCredential decrypts and returns the value stored for service.
func (s *Store) GetCredential(ctx context.Context, service string) (string, error) {
	var encrypted string
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx, `SELECT value_encrypted FROM credentials WHERE service = ?`, service)
		err := row.Scan(&encrypted)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrCredentialNotFound
		}
		return err
	})
	if err != nil {
		return "", err
	}
	return crypto.Decrypt(encrypted)
}

// DeleteCredential removes the stored credential for service, if any.
func (s *Store) DeleteCredential(ctx context.Context, service string) error {
	return s.withConn(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `DELETE FROM credentials WHERE service = ?`, service)
		return err
	})
}
