package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tasukuchiba/ifocus/internal/auth"
	"github.com/tasukuchiba/ifocus/internal/models"
	"github.com/tasukuchiba/ifocus/internal/storage"
)

// CredentialsRequest は登録・ログインのリクエスト
type CredentialsRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// RefreshRequest はトークン更新のリクエスト
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// ChangePasswordRequest はパスワード変更のリクエスト
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=6"`
}

// AuthService はメールアドレスとパスワードによる認証
type AuthService struct {
	accounts storage.AccountStore
	issuer   *auth.TokenIssuer
	log      *slog.Logger
	now      func() time.Time
}

// NewAuthService は新しいAuthServiceを作成する
func NewAuthService(accounts storage.AccountStore, issuer *auth.TokenIssuer, log *slog.Logger) *AuthService {
	return &AuthService{accounts: accounts, issuer: issuer, log: log, now: time.Now}
}

var errBadCredentials = &Error{Kind: ErrUnauthenticated, Detail: "invalid email or password"}

// Register はアカウントを作成してトークンを発行する
func (s *AuthService) Register(ctx context.Context, req CredentialsRequest) (auth.TokenPair, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := validateStruct(req); err != nil {
		return auth.TokenPair{}, err
	}
	if !auth.IsInstitutionalEmail(req.Email) {
		return auth.TokenPair{}, newError(ErrForbidden, "registration is only allowed with an institutional e-mail (.edu.br)")
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return auth.TokenPair{}, fmt.Errorf("hash password: %w", err)
	}
	account := models.Account{
		UID:          uuid.NewString(),
		Email:        req.Email,
		PasswordHash: hash,
		CreatedAt:    s.now().UnixMilli(),
	}
	err = s.accounts.CreateAccount(ctx, account)
	if errors.Is(err, storage.ErrAlreadyExists) {
		return auth.TokenPair{}, newError(ErrConflict, "e-mail already registered")
	}
	if err != nil {
		return auth.TokenPair{}, fmt.Errorf("create account: %w", err)
	}

	s.log.Info("Account registered", "uid", account.UID)
	return s.issuer.Issue(account.UID, account.Email)
}

// Login はパスワードを検証してトークンを発行する
func (s *AuthService) Login(ctx context.Context, req CredentialsRequest) (auth.TokenPair, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return auth.TokenPair{}, errBadCredentials
	}
	account, err := s.accounts.GetAccountByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return auth.TokenPair{}, errBadCredentials
	}
	if err != nil {
		return auth.TokenPair{}, fmt.Errorf("get account: %w", err)
	}
	ok, err := auth.ComparePassword(req.Password, account.PasswordHash)
	if err != nil {
		return auth.TokenPair{}, fmt.Errorf("compare password: %w", err)
	}
	if !ok {
		s.log.Debug("Login rejected", "uid", account.UID)
		return auth.TokenPair{}, errBadCredentials
	}
	return s.issuer.Issue(account.UID, account.Email)
}

// Refresh はリフレッシュトークンから新しいトークンの組を発行する
func (s *AuthService) Refresh(ctx context.Context, req RefreshRequest) (auth.TokenPair, error) {
	if err := validateStruct(req); err != nil {
		return auth.TokenPair{}, err
	}
	claims, err := s.issuer.VerifyRefreshToken(req.RefreshToken)
	if err != nil {
		return auth.TokenPair{}, newError(ErrUnauthenticated, "invalid or expired refresh token")
	}
	account, err := s.accounts.GetAccount(ctx, claims.UID())
	if errors.Is(err, storage.ErrNotFound) {
		return auth.TokenPair{}, newError(ErrUnauthenticated, "account no longer exists")
	}
	if err != nil {
		return auth.TokenPair{}, fmt.Errorf("get account: %w", err)
	}
	return s.issuer.Issue(account.UID, account.Email)
}

// ChangePassword は現在のパスワードを確認してから変更する
func (s *AuthService) ChangePassword(ctx context.Context, uid string, req ChangePasswordRequest) error {
	if err := validateStruct(req); err != nil {
		return err
	}
	account, err := s.accounts.GetAccount(ctx, uid)
	if errors.Is(err, storage.ErrNotFound) {
		return newError(ErrUnauthenticated, "account no longer exists")
	}
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	ok, err := auth.ComparePassword(req.CurrentPassword, account.PasswordHash)
	if err != nil {
		return fmt.Errorf("compare password: %w", err)
	}
	if !ok {
		return newError(ErrUnauthenticated, "current password is incorrect")
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.accounts.UpdatePasswordHash(ctx, uid, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	s.log.Info("Password changed", "uid", uid)
	return nil
}
