package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrTokenInvalid = errors.New("token invalid")
	ErrUserInactive = errors.New("user inactive")
)

// User is the identity attached to a request. Accounts are provisioned by
// the external identity provider; this service only verifies the API tokens
// it hands out (we store bcrypt hashes of the secret half, never the secret).
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// VerifyToken resolves a bearer token of the form "<token_id>.<secret>".
// The token id selects the row; the secret is compared against the stored
// bcrypt hash.
func (s *Service) VerifyToken(ctx context.Context, token string) (*User, error) {
	tokenID, secret, ok := splitToken(token)
	if !ok {
		return nil, ErrTokenInvalid
	}

	var (
		user      User
		hash      string
		isActive  bool
		expiresAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.role, u.is_active, t.secret_hash, t.expires_at
		FROM api_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.token_id = $1
	`, tokenID).Scan(&user.ID, &user.Username, &user.Role, &isActive, &hash, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("load token: %w", err)
	}

	if expiresAt.Valid && time.Now().After(expiresAt.Time) {
		return nil, ErrTokenInvalid
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return nil, ErrTokenInvalid
	}
	if !isActive {
		return nil, ErrUserInactive
	}

	return &user, nil
}

func splitToken(token string) (tokenID, secret string, ok bool) {
	token = strings.TrimSpace(token)
	idx := strings.IndexByte(token, '.')
	if idx <= 0 || idx == len(token)-1 {
		return "", "", false
	}
	return token[:idx], token[idx+1:], true
}
