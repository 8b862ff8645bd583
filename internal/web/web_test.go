package web

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type page struct {
	Title         string
	Email         string
	Error         string
	Notice        string
	GoogleEnabled bool
	Welcome       string
}

func TestTemplatesRender(t *testing.T) {
	tmpl, err := Templates()
	require.NoError(t, err)

	for _, name := range []string{"index.html", "login.html", "signup.html", "signup-success.html", "dashboard.html"} {
		var buf bytes.Buffer
		require.NoError(t, tmpl.ExecuteTemplate(&buf, name, page{Title: "Test"}), name)
		assert.Contains(t, buf.String(), "<title>Test | Slim Tax</title>", name)
	}
}

func TestDashboardEscapesContent(t *testing.T) {
	tmpl, err := Templates()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, tmpl.ExecuteTemplate(&buf, "dashboard.html", page{
		Title:   "Dashboard",
		Email:   "<b>user@example.com</b>",
		Welcome: "Hello",
	}))
	out := buf.String()
	assert.Contains(t, out, "&lt;b&gt;user@example.com&lt;/b&gt;")
	assert.Contains(t, out, `data-endpoint="/api/chat"`)
}

func TestStaticAssets(t *testing.T) {
	fsys := Static()
	f, err := fsys.Open("/app.css")
	require.NoError(t, err)
	defer f.Close()
	body, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), ".button"))

	_, err = fsys.Open("/missing.js")
	assert.Error(t, err)
}
