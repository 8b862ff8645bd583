package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRequiresSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := openTestDB(t)
	defer db.Close()
	userID := insertUser(t, db, "mw@example.com")
	svc := NewService(db, nil, time.Hour)
	token, err := svc.IssueToken(context.Background(), userID)
	require.NoError(t, err)

	router := gin.New()
	router.GET("/private", svc.Middleware(), func(c *gin.Context) {
		sess, ok := SessionFromContext(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"email": sess.Email})
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/private", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.AddCookie(&http.Cookie{Name: svc.AuthCookieName(), Value: token})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"email":"mw@example.com"}`, rec.Body.String())
}

func TestCSRFMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := NewService(nil, nil, time.Hour)

	router := gin.New()
	router.Use(svc.CSRFMiddleware())
	router.GET("/read", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	router.POST("/write", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	cases := []struct {
		name   string
		method string
		path   string
		setup  func(*http.Request)
		want   int
	}{
		{"safe method", http.MethodGet, "/read", func(*http.Request) {}, http.StatusNoContent},
		{"missing token", http.MethodPost, "/write", func(*http.Request) {}, http.StatusForbidden},
		{"mismatch", http.MethodPost, "/write", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: "csrf_token", Value: "a"})
			r.Header.Set("X-CSRF-Token", "b")
		}, http.StatusForbidden},
		{"match", http.MethodPost, "/write", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: "csrf_token", Value: "a"})
			r.Header.Set("X-CSRF-Token", "a")
		}, http.StatusNoContent},
		{"bearer skips", http.MethodPost, "/write", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer abc")
		}, http.StatusNoContent},
		{"empty bearer still checked", http.MethodPost, "/write", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer ")
		}, http.StatusForbidden},
		{"empty cookie", http.MethodPost, "/write", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: "csrf_token", Value: ""})
			r.Header.Set("X-CSRF-Token", "")
		}, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			tc.setup(req)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}
