// Package auth implements registration, login, refresh and logout on top of
// the credential store and the token service.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"github.com/Skotchmaster/bookshelf/internal/events"
	"github.com/Skotchmaster/bookshelf/internal/hash"
	"github.com/Skotchmaster/bookshelf/internal/logging"
	"github.com/Skotchmaster/bookshelf/internal/models"
	"github.com/Skotchmaster/bookshelf/internal/repo"
	"github.com/Skotchmaster/bookshelf/internal/service/token"
)

var (
	ErrValidation         = errors.New("username and password are required")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDuplicateUsername  = errors.New("username already registered")
)

type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	CreateUser(ctx context.Context, u *models.User) error
	UsernameTaken(ctx context.Context, username string) (bool, error)
}

type AuthService struct {
	Users  UserStore
	Tokens *token.TokenService
	Events events.Publisher
}

func (s *AuthService) Register(ctx context.Context, username, password string) (*models.User, error) {
	l := logging.FromContext(ctx).With("svc", "auth.register")

	if strings.TrimSpace(username) == "" || password == "" {
		return nil, ErrValidation
	}

	taken, err := s.Users.UsernameTaken(ctx, username)
	if err != nil {
		l.Error("register_failed", "reason", "db error on user lookup", "error", err)
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if taken {
		l.Warn("register_rejected", "reason", "username taken")
		return nil, ErrDuplicateUsername
	}

	hashed, err := hash.HashPassword(password)
	if err != nil {
		l.Error("register_failed", "reason", "cannot hash password", "error", err)
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{Username: username, PasswordHash: hashed}
	if err := s.Users.CreateUser(ctx, user); err != nil {
		// lost a race with a concurrent registration of the same name
		if errors.Is(err, repo.ErrUserAlreadyExist) {
			l.Warn("register_rejected", "reason", "username taken")
			return nil, ErrDuplicateUsername
		}
		l.Error("register_failed", "reason", "db error on create", "error", err)
		return nil, fmt.Errorf("create user: %w", err)
	}

	events.Emit(ctx, s.Events, events.Event{
		Type:     events.UserRegistered,
		UserID:   user.ID,
		Username: user.Username,
	})
	l.Info("register_ok", "user_id", user.ID)
	return user, nil
}

// Login does not reveal whether the username or the password was wrong.
func (s *AuthService) Login(ctx context.Context, username, password string) (*token.Pair, error) {
	l := logging.FromContext(ctx).With("svc", "auth.login")

	user, err := s.Users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			l.Warn("login_rejected", "reason", "unknown user")
			return nil, ErrInvalidCredentials
		}
		l.Error("login_failed", "reason", "db error on user lookup", "error", err)
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if !hash.CheckPassword(user.PasswordHash, password) {
		l.Warn("login_rejected", "reason", "password mismatch", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}

	pair, err := s.Tokens.IssuePair(ctx, strconv.FormatUint(uint64(user.ID), 10), user.Username)
	if err != nil {
		l.Error("login_failed", "reason", "cannot issue tokens", "error", err)
		return nil, err
	}

	events.Emit(ctx, s.Events, events.Event{
		Type:     events.UserLoggedIn,
		UserID:   user.ID,
		Username: user.Username,
	})
	return pair, nil
}

// Refresh rotates the presented token. Every token-level failure looks the
// same to the caller; store failures are returned as they are.
func (s *AuthService) Refresh(ctx context.Context, refresh string) (*token.Pair, error) {
	pair, err := s.Tokens.Rotate(ctx, refresh)
	if err != nil {
		if isTokenError(err) {
			logging.FromContext(ctx).Warn("refresh_rejected", "status", 401, "error", err)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	return pair, nil
}

// Logout revokes the refresh token if it verifies. It never fails.
func (s *AuthService) Logout(ctx context.Context, refresh string) {
	l := logging.FromContext(ctx).With("svc", "auth.logout")

	if refresh == "" {
		return
	}
	claims, err := s.Tokens.VerifyRefreshToken(refresh)
	if err != nil {
		l.Info("logout_ignored", "reason", "token does not verify", "error", err)
		return
	}
	if err := s.Tokens.Revoke(ctx, claims.ID); err != nil {
		l.Error("logout_revoke_failed", "error", err)
	}
}

func isTokenError(err error) bool {
	return errors.Is(err, token.ErrInvalidToken) ||
		errors.Is(err, token.ErrWrongScope) ||
		errors.Is(err, token.ErrInvalidIdentity)
}
