package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"escrowd/native/escrow"
)

const secret = "middleware-secret"

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestAuthenticatorMiddleware(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{
		Enabled:       true,
		HMACSecret:    secret,
		Issuer:        "escrowd",
		Audience:      "clients",
		OptionalPaths: []string{"/healthz"},
	}, nil)
	var seen [20]byte
	var seenOK bool
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, seenOK = CallerFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	exp := time.Now().Add(time.Hour).Unix()
	subject := "0x00000000000000000000000000000000000000bb"

	cases := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"optional path", "/healthz", "", http.StatusNoContent},
		{"missing token", "/rpc", "", http.StatusUnauthorized},
		{"not bearer", "/rpc", "Basic abc", http.StatusUnauthorized},
		{"bad signature", "/rpc", "Bearer " + sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{
			"sub": subject, "iss": "escrowd", "aud": "clients", "exp": exp,
		}), http.StatusUnauthorized},
		{"wrong issuer", "/rpc", "Bearer " + sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{
			"sub": subject, "iss": "someone", "aud": "clients", "exp": exp,
		}), http.StatusUnauthorized},
		{"expired", "/rpc", "Bearer " + sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{
			"sub": subject, "iss": "escrowd", "aud": "clients", "exp": time.Now().Add(-time.Hour).Unix(),
		}), http.StatusUnauthorized},
		{"subject not an identity", "/rpc", "Bearer " + sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{
			"sub": "alice", "iss": "escrowd", "aud": "clients", "exp": exp,
		}), http.StatusUnauthorized},
		{"valid audience list", "/rpc", "Bearer " + sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{
			"sub": subject, "iss": "escrowd", "aud": []string{"other", "clients"}, "exp": exp,
		}), http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seenOK = false
			req := httptest.NewRequest(http.MethodPost, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
	if !seenOK || escrow.FormatAddress(seen) != subject {
		t.Fatalf("caller not propagated: %x %v", seen, seenOK)
	}
}

func TestAuthenticatorDisabledPassesThrough(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{}, nil)
	if auth.Enabled() {
		t.Fatalf("zero config must be disabled")
	}
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := CallerFromContext(r.Context()); ok {
			t.Fatalf("no caller expected without auth")
		}
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rpc", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRateLimiterThrottlesPerClient(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 1, Burst: 2}, nil)
	handler := limiter.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	do := func(remote string) int {
		req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}
	for i := 0; i < 2; i++ {
		if code := do("10.0.0.1:1234"); code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, code)
		}
	}
	if code := do("10.0.0.1:5678"); code != http.StatusTooManyRequests {
		t.Fatalf("expected throttle, got %d", code)
	}
	if code := do("10.0.0.2:1234"); code != http.StatusOK {
		t.Fatalf("other clients must not be throttled, got %d", code)
	}
}

func TestRateLimiterSweepsIdleClients(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 60, Burst: 1}, nil)
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }
	limiter.obtainLimiter("a")
	limiter.obtainLimiter("b")
	now = now.Add(10 * time.Minute)
	limiter.obtainLimiter("b")
	if _, ok := limiter.visitors["a"]; ok {
		t.Fatalf("idle visitor not swept")
	}
	if len(limiter.visitors) != 1 {
		t.Fatalf("visitors = %d", len(limiter.visitors))
	}
}

func TestClientIDPrefersCaller(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	req.Header.Set("X-Forwarded-For", "192.0.2.7, 10.0.0.1")
	if got := clientID(req); got != "192.0.2.7" {
		t.Fatalf("forwarded id = %s", got)
	}
	req = req.WithContext(context.WithValue(req.Context(), ContextKeyCaller, [20]byte{19: 0x01}))
	if got := clientID(req); !strings.HasPrefix(got, "caller:0x") {
		t.Fatalf("caller id = %s", got)
	}
}

func TestObservabilityLabelsRPCMethod(t *testing.T) {
	obs := NewObservability(ObservabilityConfig{Enabled: true, ServiceName: "test"}, nil)
	handler := obs.Middleware("/rpc")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if RequestIDFromContext(r.Context()) == "" {
			t.Fatalf("request id missing from context")
		}
		if r.Header.Get("X-Dispatch") != "" {
			SetRPCMethod(r.Context(), r.Header.Get("X-Dispatch"))
		}
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	req.Header.Set("X-Dispatch", "escrow_releaseFunds")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted || rec.Header().Get(RequestIDHeader) == "" {
		t.Fatalf("unexpected response %d %v", rec.Code, rec.Header())
	}
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/rpc", nil))

	metrics := httptest.NewRecorder()
	obs.MetricsHandler().ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := metrics.Body.String()
	for _, want := range []string{
		`escrowd_http_requests_total{code="202",route="/rpc",rpc_method="escrow_releaseFunds"} 1`,
		`escrowd_http_requests_total{code="202",route="/rpc",rpc_method="unknown"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %s in:\n%s", want, body)
		}
	}
}

func TestSetRPCMethodWithoutMiddlewareIsNoop(t *testing.T) {
	SetRPCMethod(context.Background(), "escrow_params")
}
