package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDashboardHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	DashboardHandler("e5@arguana", "/ws").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<code>e5@arguana</code>")
	assert.Regexp(t, `var wsPath = "(\\/|/)ws";`, rec.Body.String())
}

func TestDashboardEscapesModel(t *testing.T) {
	rec := httptest.NewRecorder()
	DashboardHandler("<script>", "/ws").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	assert.NotContains(t, rec.Body.String(), "<code><script></code>")
	assert.Contains(t, rec.Body.String(), "&lt;script&gt;")
}
