package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/tasukuchiba/ifocus/internal/auth"
	"github.com/tasukuchiba/ifocus/internal/blob"
	"github.com/tasukuchiba/ifocus/internal/models"
	"github.com/tasukuchiba/ifocus/internal/storage"
)

// CreateProfileRequest はプロフィール作成リクエスト
type CreateProfileRequest struct {
	Name string `json:"name" validate:"required,min=3"`
}

// UpdateProfileRequest はプロフィール更新リクエスト。省略したフィールドは変更しない
type UpdateProfileRequest struct {
	Name              *string  `json:"name" validate:"omitempty,min=3"`
	HelpingSubjects   []string `json:"helping_subjects" validate:"omitempty,dive,required"`
	AvatarImageBase64 *string  `json:"avatarImageBase64"`
}

// ProfileCreated はプロフィール作成の結果
type ProfileCreated struct {
	Message string `json:"message"`
	UID     string `json:"uid"`
}

// UserService は学生プロフィールの操作
type UserService struct {
	users storage.UserStore
	blobs blob.Store
	log   *slog.Logger
	now   func() time.Time
}

// NewUserService は新しいUserServiceを作成する
func NewUserService(users storage.UserStore, blobs blob.Store, log *slog.Logger) *UserService {
	return &UserService{users: users, blobs: blobs, log: log, now: time.Now}
}

// CreateProfile は認証済みユーザーのプロフィールを作成する
func (s *UserService) CreateProfile(ctx context.Context, uid, email string, req CreateProfileRequest) (ProfileCreated, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := validateStruct(req); err != nil {
		return ProfileCreated{}, err
	}
	if !auth.IsInstitutionalEmail(email) {
		return ProfileCreated{}, newError(ErrForbidden, "registration is only allowed with an institutional e-mail (.edu.br)")
	}

	name := req.Name
	user := models.User{
		UID:             uid,
		Email:           email,
		Name:            name,
		HelpingSubjects: []string{},
		Avatar:          models.AvatarInitial(name),
		CreatedAt:       s.now().UnixMilli(),
	}
	err := s.users.CreateUser(ctx, user)
	if errors.Is(err, storage.ErrAlreadyExists) {
		return ProfileCreated{}, newError(ErrConflict, "user profile already exists")
	}
	if err != nil {
		return ProfileCreated{}, fmt.Errorf("create profile: %w", err)
	}

	s.log.Info("Profile created", "uid", uid)
	return ProfileCreated{Message: "user profile created", UID: uid}, nil
}

// GetMe は認証済みユーザーのプロフィールを返す
func (s *UserService) GetMe(ctx context.Context, uid string) (models.User, error) {
	user, err := s.users.GetUser(ctx, uid)
	if errors.Is(err, storage.ErrNotFound) {
		return models.User{}, newError(ErrNotFound, "user profile not found")
	}
	if err != nil {
		return models.User{}, fmt.Errorf("get profile: %w", err)
	}
	return user, nil
}

// UpdateMe はプロフィールを部分更新する。アバター画像はオブジェクトストレージに保存する
func (s *UserService) UpdateMe(ctx context.Context, uid string, req UpdateProfileRequest) (models.User, error) {
	if req.Name != nil {
		req.Name = lo.ToPtr(strings.TrimSpace(*req.Name))
	}
	if err := validateStruct(req); err != nil {
		return models.User{}, err
	}

	update := models.UserUpdate{HelpingSubjects: req.HelpingSubjects, Name: req.Name}
	hasAvatar := req.AvatarImageBase64 != nil && *req.AvatarImageBase64 != ""
	if update.IsEmpty() && !hasAvatar {
		return models.User{}, newError(ErrInvalidArgument, "no data provided for update")
	}

	if _, err := s.GetMe(ctx, uid); err != nil {
		return models.User{}, err
	}

	if hasAvatar {
		avatarURL, err := s.uploadAvatar(ctx, uid, *req.AvatarImageBase64)
		if err != nil {
			return models.User{}, err
		}
		update.AvatarURL = &avatarURL
	}

	user, err := s.users.UpdateUser(ctx, uid, update)
	if errors.Is(err, storage.ErrNotFound) {
		return models.User{}, newError(ErrNotFound, "user profile not found")
	}
	if err != nil {
		return models.User{}, fmt.Errorf("update profile: %w", err)
	}
	return user, nil
}

// decodeDataURL は "data:image/jpeg;base64,..." 形式を分解する
func decodeDataURL(dataURL string) (string, []byte, error) {
	header, encoded, ok := strings.Cut(dataURL, ",")
	if !ok || !strings.HasPrefix(header, "data:") || !strings.HasSuffix(header, ";base64") {
		return "", nil, newError(ErrInvalidArgument, "avatarImageBase64 must be a base64 data URL")
	}
	mime := strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", nil, newError(ErrInvalidArgument, "avatarImageBase64 is not valid base64")
	}
	return mime, data, nil
}

func (s *UserService) uploadAvatar(ctx context.Context, uid, dataURL string) (string, error) {
	mime, data, err := decodeDataURL(dataURL)
	if err != nil {
		return "", err
	}
	detected := mimetype.Detect(data)
	if mime == "" {
		mime = detected.String()
	}
	if !strings.HasPrefix(mime, "image/") || !strings.HasPrefix(detected.String(), "image/") {
		return "", newError(ErrInvalidArgument, "avatar must be an image")
	}
	ext := detected.Extension()
	if ext == "" {
		ext = ".jpg"
	}

	obj, err := s.blobs.Put(ctx, fmt.Sprintf("profile_pictures/%s/%s%s", uid, uuid.NewString(), ext), mime, data)
	if err != nil {
		return "", fmt.Errorf("upload avatar: %w", err)
	}
	s.log.Info("Avatar uploaded", "uid", uid, "path", obj.Path, "size", obj.Size)
	return obj.URL, nil
}

// GetHelpers はsubjectを教えている学生を返す。依頼者自身は除外する
func (s *UserService) GetHelpers(ctx context.Context, subject, requesterUID string) ([]models.Helper, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, newError(ErrInvalidArgument, "subject is required")
	}
	users, err := s.users.ListHelpersBySubject(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("list helpers: %w", err)
	}
	others := lo.Filter(users, func(u models.User, _ int) bool { return u.UID != requesterUID })
	return lo.Map(others, func(u models.User, _ int) models.Helper { return u.ToHelper() }), nil
}

// GetPublicUsers はカンマ区切りのuidから公開プロフィールを返す
func (s *UserService) GetPublicUsers(ctx context.Context, uidsCSV string) ([]models.PublicUser, error) {
	uids := lo.Uniq(lo.Compact(lo.Map(strings.Split(uidsCSV, ","), func(u string, _ int) string {
		return strings.TrimSpace(u)
	})))
	if len(uids) == 0 {
		return []models.PublicUser{}, nil
	}
	users, err := s.users.GetUsers(ctx, uids)
	if err != nil {
		return nil, fmt.Errorf("get public users: %w", err)
	}
	return lo.Map(users, func(u models.User, _ int) models.PublicUser { return u.ToPublic() }), nil
}
