// Package auth はパスワードハッシュとIDトークン/リフレッシュトークンを扱う
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "ifocus"

// TokenKind はトークンの種類
type TokenKind string

const (
	KindID      TokenKind = "id"
	KindRefresh TokenKind = "refresh"
)

var (
	// ErrInvalidToken は署名・期限・種類のいずれかが不正なトークン
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Claims はトークンに含める情報
type Claims struct {
	Email string    `json:"email"`
	Kind  TokenKind `json:"kind"`
	jwt.RegisteredClaims
}

// UID はトークンの持ち主のuidを返す
func (c *Claims) UID() string {
	return c.Subject
}

// TokenPair はサインイン時に返すトークンの組
type TokenPair struct {
	UID          string `json:"uid"`
	Email        string `json:"email"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	// ExpiresIn はIDトークンの有効秒数
	ExpiresIn int64 `json:"expires_in"`
}

// TokenIssuer はHS256でトークンを発行・検証する
type TokenIssuer struct {
	secret     []byte
	idTTL      time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenIssuer は新しいTokenIssuerを作成する
func NewTokenIssuer(secret string, idTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret:     []byte(secret),
		idTTL:      idTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

func (i *TokenIssuer) sign(uid, email string, kind TokenKind, ttl time.Duration) (string, error) {
	now := i.now()
	claims := &Claims{
		Email: email,
		Kind:  kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Issue はIDトークンとリフレッシュトークンを発行する
func (i *TokenIssuer) Issue(uid, email string) (TokenPair, error) {
	idToken, err := i.sign(uid, email, KindID, i.idTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign id token: %w", err)
	}
	refreshToken, err := i.sign(uid, email, KindRefresh, i.refreshTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return TokenPair{
		UID:          uid,
		Email:        email,
		IDToken:      idToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(i.idTTL / time.Second),
	}, nil
}

func (i *TokenIssuer) parse(token string, kind TokenKind) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" || claims.Kind != kind {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyIDToken はIDトークンを検証してクレームを返す
func (i *TokenIssuer) VerifyIDToken(token string) (*Claims, error) {
	return i.parse(token, KindID)
}

// VerifyRefreshToken はリフレッシュトークンを検証してクレームを返す
func (i *TokenIssuer) VerifyRefreshToken(token string) (*Claims, error) {
	return i.parse(token, KindRefresh)
}
