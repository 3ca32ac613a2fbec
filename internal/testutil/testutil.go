// Package testutil provides helpers for exercising the loopback-only /debug/
// admin routes in tests.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// LoopbackAddr is the RemoteAddr given to requests built by LoopbackRequest.
const LoopbackAddr = "127.0.0.1:12345"

// LoopbackRequest creates an httptest request that appears to come from
// localhost, which the /debug/ routes require.
func LoopbackRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = LoopbackAddr
	if body != nil && method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return req
}

// Serve runs a loopback request against h and returns the recorded response.
func Serve(h http.Handler, method, path string, body io.Reader) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, LoopbackRequest(method, path, body))
	return rec
}

// AssertStatusCode fails the test when the recorded status differs from want.
func AssertStatusCode(t testing.TB, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Errorf("status = %d, want %d (body %q)", rec.Code, want, rec.Body.String())
	}
}
