package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"slimtax/internal/models"
	"slimtax/internal/storage"
)

const minPasswordLen = 6

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailNotConfirmed  = errors.New("email not confirmed")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", minPasswordLen)
)

const userColumns = `id, email, password_hash, provider, confirmed, created_at`

// SignUp registers an email account. When confirmation is required the
// returned token must be redeemed through ConfirmEmail before SignIn succeeds;
// otherwise the token is empty and the account is usable immediately.
// Signing up again for an address that was never confirmed replaces its
// password and issues a fresh confirmation token.
func (s *Service) SignUp(ctx context.Context, email, password string) (*models.User, string, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, "", err
	}
	if len(password) < minPasswordLen {
		return nil, "", ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}
	now := s.now()
	user := &models.User{
		Email:        email,
		PasswordHash: string(hash),
		Provider:     models.ProviderEmail,
		Confirmed:    !s.requireConfirm,
		CreatedAt:    now,
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, "", fmt.Errorf("begin sign up: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO users (email, password_hash, provider, confirmed, created_at) VALUES (?, ?, ?, ?, ?)`,
		user.Email, user.PasswordHash, user.Provider, user.Confirmed, user.CreatedAt,
	)
	switch {
	case err == nil:
		if user.ID, err = res.LastInsertId(); err != nil {
			return nil, "", fmt.Errorf("user id: %w", err)
		}
	case storage.IsUniqueViolation(err):
		if user, err = s.reclaimPending(ctx, tx, user); err != nil {
			return nil, "", err
		}
	default:
		return nil, "", fmt.Errorf("create user: %w", err)
	}

	var confirmToken string
	if s.requireConfirm {
		if confirmToken, err = generateToken(); err != nil {
			return nil, "", err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO confirmation_tokens (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
			confirmToken, user.ID, now, now.Add(s.confirmationTTL),
		); err != nil {
			return nil, "", fmt.Errorf("store confirmation token: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, "", fmt.Errorf("commit sign up: %w", err)
	}
	return user, confirmToken, nil
}

// reclaimPending takes over the existing row for want.Email when it is an
// email account nobody confirmed. Outstanding confirmation tokens are voided.
func (s *Service) reclaimPending(ctx context.Context, tx *sqlx.Tx, want *models.User) (*models.User, error) {
	var existing models.User
	if err := tx.GetContext(ctx, &existing, `SELECT `+userColumns+` FROM users WHERE email = ?`, want.Email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// deleted after the insert collided
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	if existing.Confirmed || existing.Provider != models.ProviderEmail {
		return nil, ErrEmailTaken
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM confirmation_tokens WHERE user_id = ?`, existing.ID); err != nil {
		return nil, fmt.Errorf("void confirmations: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, confirmed = ? WHERE id = ?`,
		want.PasswordHash, want.Confirmed, existing.ID,
	); err != nil {
		return nil, fmt.Errorf("reset pending user: %w", err)
	}
	existing.PasswordHash = want.PasswordHash
	existing.Confirmed = want.Confirmed
	return &existing, nil
}

// ConfirmEmail redeems a confirmation token. Tokens are single use.
func (s *Service) ConfirmEmail(ctx context.Context, token string) (*models.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin confirm: %w", err)
	}
	defer tx.Rollback()

	var row struct {
		UserID    int64     `db:"user_id"`
		ExpiresAt time.Time `db:"expires_at"`
	}
	if err := tx.GetContext(ctx, &row,
		`SELECT user_id, expires_at FROM confirmation_tokens WHERE token = ?`, token,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("lookup confirmation: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM confirmation_tokens WHERE token = ?`, token); err != nil {
		return nil, fmt.Errorf("consume confirmation: %w", err)
	}
	if !s.now().Before(row.ExpiresAt) {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit confirm: %w", err)
		}
		return nil, ErrTokenExpired
	}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET confirmed = ? WHERE id = ?`, true, row.UserID); err != nil {
		return nil, fmt.Errorf("confirm user: %w", err)
	}
	var user models.User
	if err := tx.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id = ?`, row.UserID); err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit confirm: %w", err)
	}
	return &user, nil
}

// SignIn validates email credentials and returns the account.
func (s *Service) SignIn(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.userByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if user.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.Confirmed {
		return nil, ErrEmailNotConfirmed
	}
	return user, nil
}

// UpsertOAuthUser returns the account for a provider-verified email,
// creating it on first sign-in. A pending email account is confirmed and
// loses the password it was registered with, along with any tokens it holds.
func (s *Service) UpsertOAuthUser(ctx context.Context, email string, provider models.Provider) (*models.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	user, err := s.userByEmail(ctx, email)
	switch {
	case err == nil:
		if !user.Confirmed {
			if err := s.claimPending(ctx, user.ID); err != nil {
				return nil, err
			}
			user.Confirmed = true
			user.PasswordHash = ""
		}
		return user, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}

	user = &models.User{Email: email, Provider: provider, Confirmed: true, CreatedAt: s.now()}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (email, password_hash, provider, confirmed, created_at) VALUES (?, '', ?, ?, ?)`,
		user.Email, user.Provider, user.Confirmed, user.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	if user.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("user id: %w", err)
	}
	return user, nil
}

// claimPending confirms an unconfirmed account on behalf of a verified
// identity provider, discarding the password, confirmation tokens and
// sessions it was registered with.
func (s *Service) claimPending(ctx context.Context, userID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin confirm: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET confirmed = ?, password_hash = '' WHERE id = ?`, true, userID,
	); err != nil {
		return fmt.Errorf("confirm user: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM confirmation_tokens WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("void confirmations: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit confirm: %w", err)
	}
	return s.RevokeUserTokens(ctx, userID)
}

// DeleteUser removes a user and cascaded tokens.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	if id <= 0 {
		return errors.New("invalid user id")
	}
	if err := s.RevokeUserTokens(ctx, id); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Service) userByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE email = ?`, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}
