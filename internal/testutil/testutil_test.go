package testutil

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLoopbackRequest(t *testing.T) {
	req := LoopbackRequest(http.MethodGet, "/debug/slip-stats", nil)
	if req.RemoteAddr != LoopbackAddr {
		t.Errorf("RemoteAddr = %q, want %q", req.RemoteAddr, LoopbackAddr)
	}
	if req.Header.Get("Content-Type") != "" {
		t.Errorf("GET request should carry no Content-Type")
	}

	req = LoopbackRequest(http.MethodPost, "/debug/send-packet-api", strings.NewReader("payload=c0"))
	if got := req.Header.Get("Content-Type"); got != "application/x-www-form-urlencoded" {
		t.Errorf("Content-Type = %q", got)
	}
	if err := req.ParseForm(); err != nil {
		t.Fatal(err)
	}
	if got := req.FormValue("payload"); got != "c0" {
		t.Errorf("payload = %q, want c0", got)
	}
}

func TestServe(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, r.RemoteAddr)
	})
	rec := Serve(h, http.MethodGet, "/", nil)
	AssertStatusCode(t, rec, http.StatusOK)
	if rec.Body.String() != LoopbackAddr {
		t.Errorf("body = %q, want %q", rec.Body.String(), LoopbackAddr)
	}
}

// recordingTB captures Errorf calls instead of failing the real test.
type recordingTB struct {
	testing.TB
	errors []string
}

func (r *recordingTB) Helper() {}

func (r *recordingTB) Errorf(format string, args ...any) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func TestAssertStatusCode_FailurePath(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.WriteHeader(http.StatusTeapot)

	tb := &recordingTB{}
	AssertStatusCode(tb, rec, http.StatusOK)
	if len(tb.errors) != 1 || !strings.Contains(tb.errors[0], "status = 418, want 200") {
		t.Errorf("errors = %q", tb.errors)
	}
}
