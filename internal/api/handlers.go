package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"slimtax/internal/auth"
	"slimtax/internal/config"
	"slimtax/internal/gate"
	"slimtax/internal/mailer"
	"slimtax/internal/models"
	"slimtax/internal/web"
)

const (
	welcomeMessage   = "Welcome to Slim Tax! I'm your AI tax strategist. How can I help you today?"
	oauthStateCookie = "oauth_state"
	statusTimeout    = 2 * time.Second
)

// Responder produces chat answers.
type Responder interface {
	Respond(ctx context.Context, message string) (string, error)
}

// OAuthProvider drives a third-party sign-in flow.
type OAuthProvider interface {
	LoginURL() (string, string, error)
	VerifyState(state string) error
	Exchange(ctx context.Context, code string) (*auth.OAuthIdentity, error)
}

// HealthCheck reports whether a backing service is reachable.
type HealthCheck func(ctx context.Context) error

// Options carries the optional collaborators of a Handler.
type Options struct {
	Gate    config.GateConfig
	BaseURL string
	Mailer  mailer.Mailer
	Google  OAuthProvider
	Checks  map[string]HealthCheck
	Logger  *zap.Logger
}

// Handler wires HTTP routes to the identity service and the advice responder.
type Handler struct {
	auth      *auth.Service
	responder Responder
	policy    *gate.Policy
	baseURL   string
	mailer    mailer.Mailer
	google    OAuthProvider
	checks    map[string]HealthCheck
	log       *zap.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(authService *auth.Service, responder Responder, opts Options) *Handler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		auth:      authService,
		responder: responder,
		policy:    gate.NewPolicy(opts.Gate),
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		mailer:    opts.Mailer,
		google:    opts.Google,
		checks:    opts.Checks,
		log:       log,
	}
}

// RegisterRoutes attaches the session gate, pages and API routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) error {
	tmpl, err := web.Templates()
	if err != nil {
		return fmt.Errorf("parse templates: %w", err)
	}
	router.SetHTMLTemplate(tmpl)
	router.Use(gate.Middleware(h.auth, h.policy, h.log))

	router.StaticFS("/static", web.Static())
	router.GET("/favicon.ico", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	router.GET("/", h.indexPage)
	router.GET("/login", h.loginPage)
	router.GET("/signup", h.signupPage)
	router.GET("/signup-success", h.signupSuccessPage)
	router.GET("/dashboard", h.dashboardPage)
	router.GET("/auth/callback", h.authCallback)

	api := router.Group("/api")
	api.GET("/status", h.status)
	api.POST("/chat", h.chat)

	authRoutes := api.Group("/auth")
	authRoutes.POST("/signup", h.signUp)
	authRoutes.POST("/login", h.login)
	authRoutes.GET("/oauth/google", h.googleLogin)
	authMW := h.auth.Middleware()
	authRoutes.GET("/session", authMW, h.session)
	authRoutes.POST("/logout", authMW, h.auth.CSRFMiddleware(), h.logout)
	return nil
}

// Chat

func (h *Handler) chat(c *gin.Context) {
	if _, err := h.auth.SessionFromRequest(c.Request); err != nil {
		if !errors.Is(err, auth.ErrNoSession) {
			h.log.Warn("chat session lookup failed", zap.Error(err))
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Error("chat request rejected", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process your request"})
		return
	}
	answer, err := h.responder.Respond(c.Request.Context(), req.Message)
	if err != nil {
		h.log.Error("chat responder failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process your request"})
		return
	}
	c.JSON(http.StatusOK, models.ChatResponse{Response: answer})
}

// Account create&login interface
type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) signUp(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ctx := c.Request.Context()
	user, confirmToken, err := h.auth.SignUp(ctx, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrWeakPassword):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, auth.ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			h.log.Error("sign up failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "sign up failed"})
		}
		return
	}
	if confirmToken != "" && h.mailer != nil {
		link := h.baseURL + "/auth/callback?token=" + url.QueryEscape(confirmToken)
		if err := h.mailer.SendConfirmation(user.Email, link); err != nil {
			// unconfirmable accounts are removed so the address can sign up again
			if delErr := h.auth.DeleteUser(ctx, user.ID); delErr != nil {
				h.log.Error("remove unconfirmable user", zap.Int64("user_id", user.ID), zap.Error(delErr))
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not send confirmation email"})
			return
		}
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":                    user.ID,
		"email":                 user.Email,
		"confirmation_required": !user.Confirmed,
	})
}

func (h *Handler) login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.auth.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		case errors.Is(err, auth.ErrEmailNotConfirmed):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		default:
			h.log.Error("sign in failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "sign in failed"})
		}
		return
	}
	authToken, err := h.startSession(c, user.ID)
	if err != nil {
		h.log.Error("issue session", zap.Int64("user_id", user.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":         user.ID,
		"email":      user.Email,
		"auth_token": authToken,
	})
}

func (h *Handler) logout(c *gin.Context) {
	if sess, ok := auth.SessionFromContext(c); ok {
		if err := h.auth.RevokeToken(c.Request.Context(), sess.Token); err != nil {
			h.log.Warn("revoke token on logout", zap.Error(err))
		}
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) session(c *gin.Context) {
	sess, ok := auth.SessionFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) googleLogin(c *gin.Context) {
	if h.google == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "oauth provider not configured"})
		return
	}
	loginURL, state, err := h.google.LoginURL()
	if err != nil {
		h.log.Error("build oauth login url", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "oauth unavailable"})
		return
	}
	setCookie(c, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		MaxAge:   int((10 * time.Minute).Seconds()),
		Path:     "/auth/callback",
		Secure:   gin.Mode() == gin.ReleaseMode,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	c.Redirect(http.StatusFound, loginURL)
}

// authCallback finishes both email confirmation (?token=) and the OAuth
// code flow (?code=&state=), signing the user in on success.
func (h *Handler) authCallback(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		user *models.User
		err  error
	)
	switch {
	case c.Query("token") != "":
		user, err = h.auth.ConfirmEmail(ctx, c.Query("token"))
		if err != nil {
			h.log.Info("email confirmation rejected", zap.Error(err))
			h.redirectWithError(c, "This confirmation link is invalid or has expired.")
			return
		}
	case c.Query("code") != "":
		user, err = h.finishOAuth(c)
		if err != nil {
			h.log.Warn("oauth callback rejected", zap.Error(err))
			h.redirectWithError(c, "Could not sign you in with Google. Please try again.")
			return
		}
	default:
		c.Redirect(http.StatusFound, h.policy.SignInPath())
		return
	}
	if _, err := h.startSession(c, user.ID); err != nil {
		h.log.Error("issue session", zap.Int64("user_id", user.ID), zap.Error(err))
		h.redirectWithError(c, "Something went wrong. Please sign in again.")
		return
	}
	c.Redirect(http.StatusFound, h.policy.LandingPath())
}

func (h *Handler) finishOAuth(c *gin.Context) (*models.User, error) {
	if h.google == nil {
		return nil, errors.New("oauth provider not configured")
	}
	state := c.Query("state")
	cookieState, err := c.Cookie(oauthStateCookie)
	setCookie(c, &http.Cookie{Name: oauthStateCookie, Value: "", MaxAge: -1, Path: "/auth/callback", HttpOnly: true})
	if err != nil || cookieState == "" || cookieState != state {
		return nil, auth.ErrInvalidState
	}
	if err := h.google.VerifyState(state); err != nil {
		return nil, err
	}
	ident, err := h.google.Exchange(c.Request.Context(), c.Query("code"))
	if err != nil {
		return nil, err
	}
	return h.auth.UpsertOAuthUser(c.Request.Context(), ident.Email, models.ProviderGoogle)
}

func (h *Handler) redirectWithError(c *gin.Context, msg string) {
	c.Redirect(http.StatusFound, h.policy.SignInPath()+"?error="+url.QueryEscape(msg))
}

// status pings every backing service.
func (h *Handler) status(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), statusTimeout)
	defer cancel()
	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.log.Warn("status check failed", zap.String("service", name), zap.Error(err))
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "errors": failed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "connected"})
}

func (h *Handler) startSession(c *gin.Context, userID int64) (string, error) {
	authToken, err := h.auth.IssueToken(c.Request.Context(), userID)
	if err != nil {
		return "", err
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		return "", err
	}
	h.setAuthCookies(c, authToken, csrfToken)
	return authToken, nil
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	ttl := int(h.auth.TokenTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure := gin.Mode() == gin.ReleaseMode
	setCookie(c, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    authToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	setCookie(c, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	for _, name := range []string{h.auth.AuthCookieName(), h.auth.CSRFCookieName()} {
		setCookie(c, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   gin.Mode() == gin.ReleaseMode,
			HttpOnly: name == h.auth.AuthCookieName(),
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func setCookie(c *gin.Context, ck *http.Cookie) {
	if ck == nil {
		return
	}
	http.SetCookie(c.Writer, ck)
}
