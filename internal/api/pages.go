package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"slimtax/internal/gate"
)

type pageData struct {
	Title         string
	Email         string
	Error         string
	Notice        string
	GoogleEnabled bool
	Welcome       string
}

func (h *Handler) page(c *gin.Context, title string) pageData {
	data := pageData{
		Title:         title,
		Error:         c.Query("error"),
		GoogleEnabled: h.google != nil,
	}
	if sess, ok := gate.SessionFromContext(c); ok {
		data.Email = sess.Email
	}
	return data
}

func (h *Handler) indexPage(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", h.page(c, "AI Tax Strategist"))
}

func (h *Handler) loginPage(c *gin.Context) {
	c.HTML(http.StatusOK, "login.html", h.page(c, "Login"))
}

func (h *Handler) signupPage(c *gin.Context) {
	c.HTML(http.StatusOK, "signup.html", h.page(c, "Sign Up"))
}

func (h *Handler) signupSuccessPage(c *gin.Context) {
	c.HTML(http.StatusOK, "signup-success.html", h.page(c, "Check your email"))
}

func (h *Handler) dashboardPage(c *gin.Context) {
	data := h.page(c, "Dashboard")
	data.Welcome = welcomeMessage
	c.HTML(http.StatusOK, "dashboard.html", data)
}
