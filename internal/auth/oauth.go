package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"slimtax/internal/config"
)

const (
	googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	oauthStateIssuer  = "slimtax"
	oauthStateTTL     = 10 * time.Minute
)

var ErrInvalidState = errors.New("invalid oauth state")

// OAuthIdentity is what a provider vouches for after a successful exchange.
type OAuthIdentity struct {
	Email    string
	Verified bool
}

// GoogleOAuth drives the Google authorization-code flow. The state parameter
// is a short-lived HS256 token so callbacks can be checked without storage.
type GoogleOAuth struct {
	conf        *oauth2.Config
	stateSecret []byte
	userInfoURL string
	httpClient  *http.Client
	now         func() time.Time
}

// NewGoogleOAuth builds the provider from configuration.
func NewGoogleOAuth(cfg config.OAuthProviderConfig, stateSecret string) *GoogleOAuth {
	return newGoogleOAuth(cfg, stateSecret, google.Endpoint, googleUserInfoURL)
}

func newGoogleOAuth(cfg config.OAuthProviderConfig, stateSecret string, endpoint oauth2.Endpoint, userInfoURL string) *GoogleOAuth {
	return &GoogleOAuth{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: endpoint,
		},
		stateSecret: []byte(stateSecret),
		userInfoURL: userInfoURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		now:         time.Now,
	}
}

// LoginURL returns the consent URL and the state value embedded in it.
func (g *GoogleOAuth) LoginURL() (string, string, error) {
	nonce, err := generateToken()
	if err != nil {
		return "", "", err
	}
	now := g.now()
	claims := jwt.RegisteredClaims{
		ID:        nonce,
		Issuer:    oauthStateIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(oauthStateTTL)),
	}
	state, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.stateSecret)
	if err != nil {
		return "", "", fmt.Errorf("sign oauth state: %w", err)
	}
	return g.conf.AuthCodeURL(state, oauth2.AccessTypeOnline), state, nil
}

// VerifyState checks the signature, issuer and expiry of a state value.
func (g *GoogleOAuth) VerifyState(state string) error {
	if state == "" {
		return ErrInvalidState
	}
	_, err := jwt.ParseWithClaims(state, &jwt.RegisteredClaims{},
		func(*jwt.Token) (interface{}, error) { return g.stateSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(oauthStateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return nil
}

// Exchange trades an authorization code for the user's verified email.
func (g *GoogleOAuth) Exchange(ctx context.Context, code string) (*OAuthIdentity, error) {
	if code == "" {
		return nil, errors.New("authorization code required")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	tok, err := g.conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("code exchange: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build userinfo request: %w", err)
	}
	resp, err := g.conf.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch userinfo: status %d", resp.StatusCode)
	}

	var info struct {
		Email         string `json:"email"`
		VerifiedEmail bool   `json:"verified_email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	if info.Email == "" || !info.VerifiedEmail {
		return nil, errors.New("provider did not return a verified email")
	}
	return &OAuthIdentity{Email: info.Email, Verified: info.VerifiedEmail}, nil
}
