package hmacauth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestMiddleware_AllowsValidSignature(t *testing.T) {
	body := `{"fundTokenAddress":"0x00000000000000000000000000000000000000e1"}`
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := Sign("secret", ts, []byte(body))

	v := &Verifier{
		Secret:  "secret",
		MaxSkew: time.Minute,
		Now: func() time.Time {
			return now
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/vault", strings.NewReader(body))
	req.Header.Set(headerSignature, sig)
	req.Header.Set(headerTimestamp, ts)
	rec := httptest.NewRecorder()

	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen = string(b)
		w.WriteHeader(http.StatusOK)
	})

	v.Middleware(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if seen != body {
		t.Fatalf("handler should see the original body, got %q", seen)
	}
}

func TestMiddleware_RejectsInvalidSignature(t *testing.T) {
	body := `{"amount":"1"}`
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)

	v := &Verifier{
		Secret:  "secret",
		MaxSkew: time.Minute,
		Now: func() time.Time {
			return now
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/vault/fund", strings.NewReader(body))
	req.Header.Set(headerSignature, "deadbeef")
	req.Header.Set(headerTimestamp, ts)
	rec := httptest.NewRecorder()

	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_RejectsStaleTimestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Add(-time.Hour).Unix(), 10)

	v := &Verifier{Secret: "secret", MaxSkew: time.Minute, Now: func() time.Time { return now }}
	if err := v.verify(signedRequest(t, "secret", ts, "{}")); err != ErrStaleTimestamp {
		t.Fatalf("expected stale timestamp, got %v", err)
	}
}

func TestMiddleware_SkipsReadsAndEmptySecret(t *testing.T) {
	called := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called++ })

	v := &Verifier{Secret: "secret", MaxSkew: time.Minute}
	v.Middleware(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/vault", nil))

	open := &Verifier{}
	open.Middleware(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/vault", strings.NewReader("{}")))

	if called != 2 {
		t.Fatalf("expected both requests to pass, got %d", called)
	}
}

func TestMiddleware_CustomHeaders(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	v := &Verifier{
		Secret:          "secret",
		MaxSkew:         time.Minute,
		Now:             func() time.Time { return now },
		SignatureHeader: "X-Vault-Signature",
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}"))
	req.Header.Set("X-Vault-Signature", Sign("secret", ts, []byte("{}")))
	req.Header.Set(headerTimestamp, ts)
	if err := v.verify(req); err != nil {
		t.Fatalf("expected custom header to verify: %v", err)
	}
}

func signedRequest(t *testing.T, secret, ts, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(headerSignature, Sign(secret, ts, []byte(body)))
	req.Header.Set(headerTimestamp, ts)
	return req
}
