// Package auth issues and verifies bearer tokens for the HTTP MCP endpoint.
//
// store.go - Token persistence
//
// This file contains:
//   - Store: sqlite-backed token table in <data_dir>/auth.db
//   - CreateToken, ValidateToken, ListTokens, RevokeToken
package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const tokenPrefix = "aops_"

var (
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenExpired  = errors.New("token expired")
	ErrInvalidToken  = errors.New("invalid token format")
	ErrInvalidScope  = errors.New("invalid scope: must be read or write")
)

// Store handles token persistence
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new auth store with SQLite backend
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "auth.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tokens (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		scope TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		last_used_at DATETIME,
		expires_at DATETIME
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateToken creates a new token. The returned id is the bearer secret
// and is only shown once.
func (s *Store) CreateToken(name, scope string, expiresAt *time.Time) (*Token, string, error) {
	if !ValidScope(scope) {
		return nil, "", ErrInvalidScope
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}
	tokenID := tokenPrefix + hex.EncodeToString(tokenBytes)

	token := &Token{
		ID:        tokenID,
		Name:      name,
		Scope:     scope,
		CreatedAt: s.now().UTC(),
	}
	if expiresAt != nil {
		exp := expiresAt.UTC()
		token.ExpiresAt = &exp
	}

	_, err := s.db.Exec(
		`INSERT INTO tokens (id, name, scope, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		token.ID, token.Name, token.Scope, token.CreatedAt, token.ExpiresAt,
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to insert token: %w", err)
	}

	return token, tokenID, nil
}

// ValidateToken checks a presented token and records its use
func (s *Store) ValidateToken(tokenID string) (*Token, error) {
	if !strings.HasPrefix(tokenID, tokenPrefix) {
		return nil, ErrInvalidToken
	}

	token, err := s.scan(s.db.QueryRow(
		`SELECT id, name, scope, created_at, last_used_at, expires_at FROM tokens WHERE id = ?`,
		tokenID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query token: %w", err)
	}

	now := s.now()
	if token.Expired(now) {
		return nil, ErrTokenExpired
	}

	_, _ = s.db.Exec(`UPDATE tokens SET last_used_at = ? WHERE id = ?`, now.UTC(), tokenID)
	return token, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scan(row rowScanner) (*Token, error) {
	var token Token
	var lastUsedAt, expiresAt sql.NullTime

	if err := row.Scan(&token.ID, &token.Name, &token.Scope, &token.CreatedAt, &lastUsedAt, &expiresAt); err != nil {
		return nil, err
	}
	token.CreatedAt = token.CreatedAt.UTC()
	if lastUsedAt.Valid {
		t := lastUsedAt.Time.UTC()
		token.LastUsedAt = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		token.ExpiresAt = &t
	}
	return &token, nil
}

// ListTokens returns all tokens, newest first
func (s *Store) ListTokens() ([]*Token, error) {
	rows, err := s.db.Query(
		`SELECT id, name, scope, created_at, last_used_at, expires_at FROM tokens ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tokens []*Token
	for rows.Next() {
		token, err := s.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, token)
	}

	return tokens, rows.Err()
}

// RevokeToken deletes a token
func (s *Store) RevokeToken(tokenID string) error {
	result, err := s.db.Exec(`DELETE FROM tokens WHERE id = ?`, tokenID)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrTokenNotFound
	}

	return nil
}

// SnapshotTo writes a consistent copy of the database to path
func (s *Store) SnapshotTo(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("failed to snapshot auth.db: %w", err)
	}
	return nil
}
