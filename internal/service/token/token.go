// Package token issues, verifies, rotates and revokes access/refresh tokens.
//
// Access tokens are stateless HS256 JWTs. Refresh tokens are JWTs whose jti is
// persisted; a refresh token is usable only while its row is active, and every
// rotation consumes it.
package token

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Skotchmaster/bookshelf/internal/logging"
	"github.com/Skotchmaster/bookshelf/internal/models"
	"github.com/Skotchmaster/bookshelf/internal/tokens"
)

var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrWrongScope      = errors.New("wrong token scope")
	ErrInvalidIdentity = errors.New("invalid identity")
)

type Store interface {
	CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error
	RevokeRefresh(ctx context.Context, jti string) error
	RevokeActiveRefresh(ctx context.Context, jti string, now time.Time) (bool, error)
	IsRefreshActive(ctx context.Context, jti string, now time.Time) (bool, error)
}

type TokenService struct {
	Store      Store
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

type Pair struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
}

func (s *TokenService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *TokenService) parserOptions() []jwt.ParserOption {
	return []jwt.ParserOption{jwt.WithTimeFunc(s.now)}
}

func (s *TokenService) IssueAccessToken(subject, username string) (string, time.Time, error) {
	exp := s.now().Add(s.AccessTTL)
	signed, err := tokens.Sign(tokens.AccessClaims{
		Username: username,
		Scope:    tokens.ScopeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(s.now()),
		},
	}, s.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, exp, nil
}

// IssueRefreshToken persists a new active jti before returning the signed token.
func (s *TokenService) IssueRefreshToken(ctx context.Context, subject, username string) (string, time.Time, error) {
	if username == "" {
		return "", time.Time{}, ErrInvalidIdentity
	}
	userID, err := strconv.ParseUint(subject, 10, 64)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: subject %q", ErrInvalidIdentity, subject)
	}

	jti := tokens.NewJTI()
	exp := s.now().Add(s.RefreshTTL)

	if err := s.Store.CreateRefreshToken(ctx, &models.RefreshToken{
		JTI:       jti,
		UserID:    uint(userID),
		Username:  username,
		ExpiresAt: exp.Unix(),
	}); err != nil {
		return "", time.Time{}, fmt.Errorf("store refresh token: %w", err)
	}

	signed, err := tokens.Sign(tokens.RefreshClaims{
		Username: username,
		Scope:    tokens.ScopeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(s.now()),
		},
	}, s.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return signed, exp, nil
}

func (s *TokenService) IssuePair(ctx context.Context, subject, username string) (*Pair, error) {
	access, accessExp, err := s.IssueAccessToken(subject, username)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.IssueRefreshToken(ctx, subject, username)
	if err != nil {
		return nil, err
	}
	return &Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
	}, nil
}

// VerifyRefreshToken checks signature, expiry and scope only. It does not know
// about revocation; use VerifyActiveRefreshToken for anything privileged.
func (s *TokenService) VerifyRefreshToken(raw string) (*tokens.RefreshClaims, error) {
	claims, err := tokens.RefreshClaimsFromToken(raw, s.Secret, s.parserOptions()...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Scope != tokens.ScopeRefresh {
		return nil, ErrWrongScope
	}
	return claims, nil
}

func (s *TokenService) VerifyActiveRefreshToken(ctx context.Context, raw string) (*tokens.RefreshClaims, error) {
	claims, err := s.VerifyRefreshToken(raw)
	if err != nil {
		return nil, err
	}
	active, err := s.Store.IsRefreshActive(ctx, claims.ID, s.now())
	if err != nil {
		return nil, fmt.Errorf("check refresh token: %w", err)
	}
	if !active {
		return nil, fmt.Errorf("%w: refresh token is revoked or unknown", ErrInvalidToken)
	}
	return claims, nil
}

func (s *TokenService) ParseAccessToken(raw string) (*tokens.AccessClaims, error) {
	claims, err := tokens.AccessClaimsFromToken(raw, s.Secret, s.parserOptions()...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Scope != tokens.ScopeAccess {
		return nil, ErrWrongScope
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

// Rotate consumes refresh and returns a fresh pair. The old jti is revoked
// before anything new is issued, so a crash in between leaves the chain with
// no active token rather than two.
func (s *TokenService) Rotate(ctx context.Context, refresh string) (*Pair, error) {
	l := logging.FromContext(ctx).With("svc", "token.rotate")

	claims, err := s.VerifyRefreshToken(refresh)
	if err != nil {
		return nil, err
	}
	if claims.ID == "" || claims.Subject == "" || claims.Username == "" {
		return nil, fmt.Errorf("%w: missing required claims", ErrInvalidToken)
	}

	revoked, err := s.Store.RevokeActiveRefresh(ctx, claims.ID, s.now())
	if err != nil {
		l.Error("rotate_failed", "reason", "cannot revoke refresh token", "error", err)
		return nil, fmt.Errorf("revoke refresh token: %w", err)
	}
	if !revoked {
		l.Warn("rotate_rejected", "reason", "refresh token is not active", "jti", claims.ID)
		return nil, fmt.Errorf("%w: refresh token is revoked or unknown", ErrInvalidToken)
	}

	pair, err := s.IssuePair(ctx, claims.Subject, claims.Username)
	if err != nil {
		l.Error("rotate_failed", "reason", "cannot issue new pair", "error", err)
		return nil, err
	}
	return pair, nil
}

// Revoke is idempotent.
func (s *TokenService) Revoke(ctx context.Context, jti string) error {
	if jti == "" {
		return nil
	}
	return s.Store.RevokeRefresh(ctx, jti)
}
