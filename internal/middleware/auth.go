package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/tasukuchiba/ifocus/internal/auth"
)

// Identity は認証済みリクエストの利用者
type Identity struct {
	UID   string
	Email string
}

type identityKey struct{}

// WithIdentity はctxに利用者を載せる
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom はAuthが載せた利用者を返す
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// TokenVerifier はIDトークンを検証する
type TokenVerifier interface {
	VerifyIDToken(token string) (*auth.Claims, error)
}

// BearerToken はAuthorizationヘッダー、無ければtokenクエリからトークンを取り出す。
// ブラウザのWebSocketはヘッダーを付けられないためクエリも受け付ける
func BearerToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		token = strings.TrimSpace(token)
		return token, ok && token != ""
	}
	token := r.URL.Query().Get("token")
	return token, token != ""
}

func unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeDetail(w, http.StatusUnauthorized, detail)
}

// Auth はIDトークンを検証し、利用者をコンテキストに載せる
func Auth(verifier TokenVerifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				unauthorized(w, "missing bearer token")
				return
			}
			claims, err := verifier.VerifyIDToken(token)
			if err != nil {
				unauthorized(w, "invalid or expired token")
				return
			}
			ctx := WithIdentity(r.Context(), Identity{UID: claims.UID(), Email: claims.Email})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminKey はX-Admin-Keyヘッダーを要求する。expectedKeyが空なら何もしない
func AdminKey(expectedKey string) Middleware {
	return func(next http.Handler) http.Handler {
		if expectedKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-Admin-Key")
			if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(expectedKey)) != 1 {
				writeDetail(w, http.StatusForbidden, "invalid admin key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
