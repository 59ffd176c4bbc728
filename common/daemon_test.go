package common

import (
	"net/http"
	"net/http/httptest"
	"testing"

	golog "github.com/ipfs/go-log/v2"
	"github.com/stretchr/testify/require"
)

func TestHTTPLoggerMiddleware(t *testing.T) {
	t.Parallel()
	log := golog.Logger("common-test")

	h := HTTPLoggerMiddleware(log, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/panic" {
			panic("boom")
		}
		w.WriteHeader(http.StatusTeapot)
	}))

	res := httptest.NewRecorder()
	h.ServeHTTP(res, httptest.NewRequest("GET", "/ok", nil))
	require.Equal(t, http.StatusTeapot, res.Code)

	res = httptest.NewRecorder()
	h.ServeHTTP(res, httptest.NewRequest("GET", "/panic", nil))
	require.Equal(t, http.StatusInternalServerError, res.Code)
}
