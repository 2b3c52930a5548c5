package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAPIKeyMiddlewareDisabledWhenUnset(t *testing.T) {
	mw := apiKeyMiddleware("")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	w := httptest.NewRecorder()

	mw(okHandler()).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestAPIKeyMiddlewareRejectsMissingHeader(t *testing.T) {
	mw := apiKeyMiddleware("secret")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	w := httptest.NewRecorder()

	mw(okHandler()).ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPIKeyMiddlewareRejectsWrongKey(t *testing.T) {
	mw := apiKeyMiddleware("secret")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.Header.Set("X-API-Key", "wrong")
	w := httptest.NewRecorder()

	mw(okHandler()).ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPIKeyMiddlewareAcceptsMatchingKey(t *testing.T) {
	mw := apiKeyMiddleware("secret")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.Header.Set("X-API-Key", "secret")
	w := httptest.NewRecorder()

	mw(okHandler()).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestSendSuccessAndSendError(t *testing.T) {
	w := httptest.NewRecorder()
	sendSuccess(w, map[string]string{"ok": "yes"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"success":true`)

	w = httptest.NewRecorder()
	sendError(w, "boom", http.StatusBadRequest)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "boom")
}
