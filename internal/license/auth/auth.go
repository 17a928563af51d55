package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"promptshield/internal/apperr"
	"promptshield/internal/model"
)

// Tokens is a TokenResponse-shaped access/refresh pair.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
}

// Service registers/authenticates users and issues token pairs,
// grounded on original_source's auth router (register/login/refresh
// against a users table) and the bcrypt password hashing golang.org/x/crypto
// already provides to this codebase.
type Service struct {
	pool   *pgxpool.Pool
	signer *TokenSigner
}

// NewService wires a Service to an existing connection pool (shared
// with, or separate from, the registry's pool) and a token signer.
func NewService(pool *pgxpool.Pool, signer *TokenSigner) *Service {
	return &Service{pool: pool, signer: signer}
}

// VerifyAccessToken validates a bearer access token and returns the
// user id/email it was issued for, for use by route middleware.
func (s *Service) VerifyAccessToken(token string) (userID, email string, err error) {
	return s.signer.Verify(token, "access")
}

// Register creates a new user with a bcrypt-hashed password and
// returns its freshly issued token pair. A duplicate email fails
// ConflictError.
func (s *Service) Register(ctx context.Context, email, password, fullName string) (model.User, Tokens, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return model.User{}, Tokens{}, apperr.Wrap(apperr.Internal, "hash password", err)
	}

	u := model.User{
		ID:        uuid.NewString(),
		Email:     email,
		FullName:  fullName,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, full_name, is_active, trial_used, created_at)
		 VALUES ($1, $2, $3, $4, true, false, $5)`,
		u.ID, u.Email, string(hash), u.FullName, u.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.User{}, Tokens{}, apperr.New(apperr.ConflictError, "an account with this email already exists")
		}
		return model.User{}, Tokens{}, apperr.Wrap(apperr.Internal, "insert user", err)
	}

	tokens, err := s.issueTokens(u)
	return u, tokens, err
}

// Login verifies credentials and issues a fresh token pair.
func (s *Service) Login(ctx context.Context, email, password string) (model.User, Tokens, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, full_name, is_active, trial_used, created_at
		 FROM users WHERE email = $1`,
		email,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.IsActive, &u.TrialUsed, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, Tokens{}, apperr.New(apperr.InvalidInput, "invalid email or password")
	}
	if err != nil {
		return model.User{}, Tokens{}, apperr.Wrap(apperr.Internal, "query user", err)
	}
	if !u.IsActive {
		return model.User{}, Tokens{}, apperr.New(apperr.VaultLocked, "account is deactivated")
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return model.User{}, Tokens{}, apperr.New(apperr.InvalidInput, "invalid email or password")
	}

	tokens, err := s.issueTokens(u)
	return u, tokens, err
}

// Refresh verifies a refresh token and issues a new token pair,
// re-reading the user row so a deactivated account is rejected even
// with a still-valid refresh token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (model.User, Tokens, error) {
	userID, _, err := s.signer.Verify(refreshToken, "refresh")
	if err != nil {
		return model.User{}, Tokens{}, err
	}

	var u model.User
	err = s.pool.QueryRow(ctx,
		`SELECT id, email, full_name, is_active, trial_used, created_at FROM users WHERE id = $1`,
		userID,
	).Scan(&u.ID, &u.Email, &u.FullName, &u.IsActive, &u.TrialUsed, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, Tokens{}, apperr.New(apperr.NotFound, "user not found")
	}
	if err != nil {
		return model.User{}, Tokens{}, apperr.Wrap(apperr.Internal, "query user", err)
	}
	if !u.IsActive {
		return model.User{}, Tokens{}, apperr.New(apperr.VaultLocked, "account is deactivated")
	}

	tokens, err := s.issueTokens(u)
	return u, tokens, err
}

// MarkTrialUsed flips a user's trial_used flag, called alongside
// registry.ClaimTrial so the licensing UI can show trial state without
// a machine-fingerprint lookup.
func (s *Service) MarkTrialUsed(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx, `UPDATE users SET trial_used = true WHERE id = $1`, userID); err != nil {
		return apperr.Wrap(apperr.Internal, "mark trial used", err)
	}
	return nil
}

func (s *Service) issueTokens(u model.User) (Tokens, error) {
	access, err := s.signer.IssueAccessToken(u.ID, u.Email)
	if err != nil {
		return Tokens{}, apperr.Wrap(apperr.Internal, "issue access token", err)
	}
	refresh, err := s.signer.IssueRefreshToken(u.ID, u.Email)
	if err != nil {
		return Tokens{}, apperr.Wrap(apperr.Internal, "issue refresh token", err)
	}
	return Tokens{AccessToken: access, RefreshToken: refresh, ExpiresIn: s.signer.AccessTTLSeconds()}, nil
}
