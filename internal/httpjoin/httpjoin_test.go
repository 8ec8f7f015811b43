package httpjoin

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"
)

func TestJoinRouteServesShellWithNoCacheHeaders(t *testing.T) {
	router := httprouter.New()
	Register(router)

	req := httptest.NewRequest(http.MethodGet, "/join/abc123", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "no-cache, no-store, must-revalidate", rec.Header().Get("Cache-Control"))
	require.Contains(t, rec.Body.String(), "<div id=\"root\">")
}
