package gate

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"slimtax/internal/auth"
	"slimtax/internal/config"
	"slimtax/internal/models"
)

const sessionKey = "gate_session"

// Action is the outcome of evaluating a request against the gate.
type Action int

const (
	Pass Action = iota
	Redirect
)

// Decision tells the caller whether to let a request through or where to
// send it instead.
type Decision struct {
	Action   Action
	Location string
}

// SessionResolver looks up the session carried by a request. It returns
// auth.ErrNoSession when the request simply has none; any other error is a
// lookup failure.
type SessionResolver interface {
	SessionFromRequest(r *http.Request) (*models.Session, error)
}

// Policy routes requests between the public auth pages and the signed-in
// area of the site.
type Policy struct {
	signIn   string
	signUp   string
	root     string
	landing  string
	excluded []string
}

func NewPolicy(cfg config.GateConfig) *Policy {
	return &Policy{
		signIn:   cfg.SignInPath,
		signUp:   cfg.SignUpPath,
		root:     cfg.RootPath,
		landing:  cfg.LandingPath,
		excluded: append([]string(nil), cfg.ExcludedPrefixes...),
	}
}

// SignInPath is where signed-out visitors are sent.
func (p *Policy) SignInPath() string { return p.signIn }

// LandingPath is where signed-in visitors are sent.
func (p *Policy) LandingPath() string { return p.landing }

// Excluded reports whether path bypasses the gate entirely. Matching is a
// plain string prefix, so "/api" also covers "/apis".
func (p *Policy) Excluded(path string) bool {
	for _, prefix := range p.excluded {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// IsAuthPath reports whether path is one of the public pages: anything under
// the sign-in or sign-up prefixes, or the root itself.
func (p *Policy) IsAuthPath(path string) bool {
	return strings.HasPrefix(path, p.signIn) ||
		strings.HasPrefix(path, p.signUp) ||
		path == p.root
}

// Decide evaluates a non-excluded path given whether a session is present.
func (p *Policy) Decide(path string, hasSession bool) Decision {
	authPath := p.IsAuthPath(path)
	switch {
	case !hasSession && !authPath:
		return Decision{Action: Redirect, Location: p.signIn}
	case hasSession && authPath && path != p.root:
		return Decision{Action: Redirect, Location: p.landing}
	default:
		return Decision{Action: Pass}
	}
}

// Middleware applies the policy to every request. A resolver failure other
// than a missing session counts as signed out.
func Middleware(resolver SessionResolver, policy *Policy, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if policy.Excluded(path) {
			c.Next()
			return
		}
		sess, err := resolver.SessionFromRequest(c.Request)
		if err != nil {
			if !errors.Is(err, auth.ErrNoSession) {
				log.Warn("session lookup failed, treating request as signed out",
					zap.String("path", path), zap.Error(err))
			}
			sess = nil
		}
		decision := policy.Decide(path, sess != nil)
		if decision.Action == Redirect {
			c.Redirect(http.StatusFound, decision.Location)
			c.Abort()
			return
		}
		if sess != nil {
			c.Set(sessionKey, sess)
		}
		c.Next()
	}
}

// SessionFromContext returns the session the gate resolved for this request,
// if any. Excluded paths never carry one.
func SessionFromContext(c *gin.Context) (*models.Session, bool) {
	val, ok := c.Get(sessionKey)
	if !ok {
		return nil, false
	}
	sess, ok := val.(*models.Session)
	return sess, ok && sess != nil
}
