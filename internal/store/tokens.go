package store

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nidhogg/majordomo/internal/auth"
)

// encryptKey returns the 32-byte AES key from MAJORDOMO_ENCRYPT_KEY.
func encryptKey() ([]byte, error) {
	keyHex := os.Getenv("MAJORDOMO_ENCRYPT_KEY")
	if keyHex == "" {
		return nil, fmt.Errorf("MAJORDOMO_ENCRYPT_KEY not set")
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode MAJORDOMO_ENCRYPT_KEY: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("MAJORDOMO_ENCRYPT_KEY must be 64 hex chars (32 bytes), got %d bytes", len(key))
	}
	return key, nil
}

// encrypt uses AES-256-GCM to encrypt plaintext.
func encrypt(plaintext string) ([]byte, error) {
	key, err := encryptKey()
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// decrypt uses AES-256-GCM to decrypt ciphertext.
func decrypt(ciphertext []byte) (string, error) {
	if len(ciphertext) == 0 {
		return "", nil
	}
	key, err := encryptKey()
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("new gcm: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ct := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

// SaveToken upserts a delegated credential for a user/service pair. The
// token is encrypted at rest.
func (s *Store) SaveToken(ctx context.Context, userID, service, token string, expiresAt time.Time) error {
	enc, err := encrypt(token)
	if err != nil {
		return fmt.Errorf("encrypt token: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO user_tokens (user_id, service, token_enc, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id, service) DO UPDATE SET
			token_enc = EXCLUDED.token_enc,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()`,
		userID, service, enc, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// Token returns the user's credential for a service, or
// auth.ErrNotAuthenticated when missing or expired. Implements
// auth.TokenProvider.
func (s *Store) Token(ctx context.Context, userID, service string) (string, error) {
	var enc []byte
	var expiresAt time.Time
	err := s.db.QueryRow(ctx, `
		SELECT token_enc, expires_at FROM user_tokens
		WHERE user_id = $1 AND service = $2`,
		userID, service,
	).Scan(&enc, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", auth.ErrNotAuthenticated
	}
	if err != nil {
		return "", fmt.Errorf("get token: %w", err)
	}
	if !expiresAt.IsZero() && time.Now().After(expiresAt) {
		return "", auth.ErrNotAuthenticated
	}
	return decrypt(enc)
}

// DeleteToken revokes the stored credential for a user/service pair.
func (s *Store) DeleteToken(ctx context.Context, userID, service string) error {
	if _, err := s.db.Exec(ctx,
		`DELETE FROM user_tokens WHERE user_id = $1 AND service = $2`, userID, service); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}
