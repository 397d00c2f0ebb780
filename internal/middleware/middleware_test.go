package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tasukuchiba/ifocus/internal/auth"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func TestAuth(t *testing.T) {
	issuer := auth.NewTokenIssuer("test-secret", time.Hour, time.Hour)
	pair, err := issuer.Issue("uid-1", "ana@ifsp.edu.br")
	require.NoError(t, err)

	var seen Identity
	h := Auth(issuer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFrom(r.Context())
		okHandler(w, r)
	}))

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"header", "Bearer " + pair.IDToken, "", http.StatusOK},
		{"query token", "", "?token=" + pair.IDToken, http.StatusOK},
		{"missing", "", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", "", http.StatusUnauthorized},
		{"refresh token", "Bearer " + pair.RefreshToken, "", http.StatusUnauthorized},
		{"garbage", "Bearer abc.def.ghi", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = Identity{}
			req := httptest.NewRequest(http.MethodGet, "/user/me"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.Equal(t, tt.want, rr.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, Identity{UID: "uid-1", Email: "ana@ifsp.edu.br"}, seen)
			} else {
				assert.Equal(t, "Bearer", rr.Header().Get("WWW-Authenticate"))
				assert.Contains(t, rr.Body.String(), `"detail"`)
			}
		})
	}
}

func TestAdminKey(t *testing.T) {
	h := AdminKey("s3cret")(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodPost, "/courses/ads", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	req.Header.Set("X-Admin-Key", "s3cret")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	open := AdminKey("")(http.HandlerFunc(okHandler))
	rr = httptest.NewRecorder()
	open.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/courses/ads", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRecover(t *testing.T) {
	h := Recover(logs.GetLoggerFromLevel(slog.LevelDebug))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"detail":"internal server error"}`, rr.Body.String())
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := Logger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/courses/x", nil))

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "method=GET")
	assert.Contains(t, out, "path=/courses/x")
	assert.Contains(t, out, "status=404")
}

func TestCORS(t *testing.T) {
	h := CORS(ParseOrigins("http://localhost:8081, https://ifocus.app"))(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodOptions, "/courses", nil)
	req.Header.Set("Origin", "http://localhost:8081")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "http://localhost:8081", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/courses", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	Chain(http.HandlerFunc(okHandler), mw("a"), mw("b")).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b"}, order)
}
