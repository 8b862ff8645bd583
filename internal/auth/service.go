package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"slimtax/internal/models"
	"slimtax/internal/redis"
)

var (
	// ErrNoSession means the request carries no usable session.
	ErrNoSession = errors.New("no session")
	// ErrInvalidToken is returned for unknown session or confirmation tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned for tokens past their expiry.
	ErrTokenExpired = errors.New("token expired")
)

// Service issues, validates, and revokes user sessions and owns the user
// accounts behind them.
type Service struct {
	db              *sqlx.DB
	cache           *tokenCache
	log             *zap.Logger
	tokenTTL        time.Duration
	confirmationTTL time.Duration
	requireConfirm  bool
	cookieName      string
	headerName      string
	csrfCookieName  string
	csrfHeaderName  string
	now             func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the logger used for cache and cleanup diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithEmailConfirmation makes new email accounts unusable until the
// confirmation token sent to them is redeemed.
func WithEmailConfirmation(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		s.requireConfirm = true
		s.confirmationTTL = ttl
	}
}

// NewService constructs an auth service with the supplied token lifetime.
// cacheClient may be nil, in which case only the in-process cache is used.
func NewService(db *sqlx.DB, cacheClient *redis.Client, ttl time.Duration, opts ...Option) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	s := &Service{
		db:              db,
		log:             zap.NewNop(),
		tokenTTL:        ttl,
		confirmationTTL: 24 * time.Hour,
		cookieName:      "auth_token",
		headerName:      "Authorization",
		csrfCookieName:  "csrf_token",
		csrfHeaderName:  "X-CSRF-Token",
		now:             func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = newTokenCache(cacheClient, s.log)
	return s
}

// IssueToken mints a new random session token for the user and persists it.
func (s *Service) IssueToken(ctx context.Context, userID int64) (string, error) {
	if userID <= 0 {
		return "", errors.New("invalid user id")
	}
	now := s.now()
	expiresAt := now.Add(s.tokenTTL)
	for i := 0; i < 5; i++ {
		token, err := generateToken()
		if err != nil {
			return "", err
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO user_tokens (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
			token, userID, now, expiresAt,
		)
		if err == nil {
			return token, nil
		}
	}
	return "", errors.New("could not issue token")
}

// NewCSRFToken returns a random token used for CSRF protection.
func (s *Service) NewCSRFToken() (string, error) {
	return generateToken()
}

type tokenRow struct {
	UserID    int64     `db:"user_id"`
	Email     string    `db:"email"`
	ExpiresAt time.Time `db:"expires_at"`
}

// ValidateToken verifies the token exists and has not expired.
func (s *Service) ValidateToken(ctx context.Context, authToken string) (*models.Session, error) {
	if authToken == "" {
		return nil, ErrInvalidToken
	}
	if sess, ok := s.cache.get(ctx, authToken); ok {
		if s.now().Before(sess.ExpiresAt) {
			return sess, nil
		}
		s.cache.drop(ctx, authToken)
	}

	var row tokenRow
	err := s.db.GetContext(ctx, &row,
		`SELECT t.user_id, u.email, t.expires_at
		 FROM user_tokens t JOIN users u ON u.id = t.user_id
		 WHERE t.token = ?`, authToken,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("lookup token: %w", err)
	}
	if !s.now().Before(row.ExpiresAt) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE token = ?`, authToken)
		return nil, ErrTokenExpired
	}
	sess := &models.Session{
		Token:     authToken,
		UserID:    row.UserID,
		Email:     row.Email,
		ExpiresAt: row.ExpiresAt.UTC(),
	}
	s.cache.put(ctx, sess, s.now())
	return sess, nil
}

// RevokeToken deletes a single token.
func (s *Service) RevokeToken(ctx context.Context, authToken string) error {
	if authToken == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE token = ?`, authToken); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	s.cache.drop(ctx, authToken)
	return nil
}

// RevokeUserTokens removes all tokens belonging to the user.
func (s *Service) RevokeUserTokens(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return nil
	}
	var tokens []string
	if err := s.db.SelectContext(ctx, &tokens, `SELECT token FROM user_tokens WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("list user tokens: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("revoke user tokens: %w", err)
	}
	s.cache.drop(ctx, tokens...)
	return nil
}

// SessionFromRequest resolves the session carried by r. Missing, unknown and
// expired tokens all yield ErrNoSession; any other error means the lookup
// itself failed.
func (s *Service) SessionFromRequest(r *http.Request) (*models.Session, error) {
	token := s.extractToken(r)
	if token == "" {
		return nil, ErrNoSession
	}
	sess, err := s.ValidateToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrTokenExpired) {
			return nil, ErrNoSession
		}
		return nil, err
	}
	return sess, nil
}

func (s *Service) extractToken(r *http.Request) string {
	if token := s.bearerToken(r); token != "" {
		return token
	}
	if ck, err := r.Cookie(s.cookieName); err == nil && ck.Value != "" {
		return ck.Value
	}
	return ""
}

// bearerToken returns the token of an "Authorization: Bearer" header, or "".
func (s *Service) bearerToken(r *http.Request) string {
	authHeader := r.Header.Get(s.headerName)
	if len(authHeader) < len("bearer ") || !strings.EqualFold(authHeader[:len("bearer ")], "bearer ") {
		return ""
	}
	return strings.TrimSpace(authHeader[len("bearer "):])
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// AuthCookieName returns the cookie name storing auth tokens.
func (s *Service) AuthCookieName() string {
	return s.cookieName
}

// CSRFCookieName returns the cookie used for CSRF tokens.
func (s *Service) CSRFCookieName() string {
	return s.csrfCookieName
}

// CSRFHeaderName returns the CSRF header name.
func (s *Service) CSRFHeaderName() string {
	return s.csrfHeaderName
}

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}

// ConfirmationRequired reports whether email sign-ups need confirming.
func (s *Service) ConfirmationRequired() bool {
	return s.requireConfirm
}
