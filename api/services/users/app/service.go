package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/tbeaudouin05/snapcal-api/api/auth"
	entitlementdb "github.com/tbeaudouin05/snapcal-api/api/services/entitlement/db"
	usersdb "github.com/tbeaudouin05/snapcal-api/api/services/users/db"
)

const minPasswordLen = 8

// AuthResponse is returned by register and login.
type AuthResponse struct {
	UserID    string    `json:"userId"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Service interface {
	Register(ctx context.Context, email, password string) (AuthResponse, error)
	Login(ctx context.Context, email, password string) (AuthResponse, error)
}

// Options configures the users service.
type Options struct {
	JWTSecret []byte
	TokenTTL  time.Duration
	// Trial is the one-time trial window granted at registration.
	Trial time.Duration
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
	Now        func() time.Time
}

type serviceImpl struct {
	repo usersdb.Repository
	opts Options
}

func NewService(repo usersdb.Repository, opts Options) Service {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return serviceImpl{repo: repo, opts: opts}
}

// Register creates the account and its trial entitlement in one step.
func (s serviceImpl) Register(ctx context.Context, email, password string) (AuthResponse, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return AuthResponse{}, err
	}
	if len(password) < minPasswordLen {
		return AuthResponse{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.opts.BcryptCost)
	if err != nil {
		return AuthResponse{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	now := s.opts.Now().UTC()
	user := usersdb.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
	}
	err = s.repo.Create(ctx, user, entitlementdb.NewTrialRecord(user.ID, now, s.opts.Trial))
	if errors.Is(err, usersdb.ErrEmailTaken) {
		return AuthResponse{}, ErrEmailTaken
	}
	if err != nil {
		return AuthResponse{}, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	slog.Info("user registered", "user_id", user.ID)
	return s.issue(user)
}

func (s serviceImpl) Login(ctx context.Context, email, password string) (AuthResponse, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return AuthResponse{}, ErrInvalidCredentials
	}
	user, err := s.repo.GetByEmail(ctx, email)
	if errors.Is(err, usersdb.ErrNotFound) {
		return AuthResponse{}, ErrInvalidCredentials
	}
	if err != nil {
		return AuthResponse{}, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return AuthResponse{}, ErrInvalidCredentials
	}
	return s.issue(user)
}

func (s serviceImpl) issue(user usersdb.User) (AuthResponse, error) {
	token, err := auth.GenerateToken(user.ID, user.Email, s.opts.JWTSecret, s.opts.TokenTTL)
	if err != nil {
		return AuthResponse{}, fmt.Errorf("sign token: %w", err)
	}
	return AuthResponse{
		UserID:    user.ID,
		Token:     token,
		ExpiresAt: time.Now().Add(s.opts.TokenTTL).UTC().Truncate(time.Second),
	}, nil
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil || addr.Name != "" {
		return "", fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	return strings.ToLower(addr.Address), nil
}
