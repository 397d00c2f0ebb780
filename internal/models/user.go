package models

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// User は学生のプロフィール
type User struct {
	UID             string   `json:"uid"`
	Email           string   `json:"email"`
	Name            string   `json:"name"`
	HelpingSubjects []string `json:"helping_subjects"`
	Avatar          string   `json:"avatar"`
	AvatarURL       *string  `json:"avatarUrl,omitempty"`
	CreatedAt       int64    `json:"created_at"`
}

// UserUpdate はプロフィールの部分更新。nilのフィールドは変更しない
type UserUpdate struct {
	Name            *string
	HelpingSubjects []string
	AvatarURL       *string
}

// IsEmpty は更新内容が一つもないかを返す
func (u UserUpdate) IsEmpty() bool {
	return u.Name == nil && u.HelpingSubjects == nil && u.AvatarURL == nil
}

// Helper は教科を教えてくれる学生の公開情報
type Helper struct {
	UID             string   `json:"uid"`
	Name            string   `json:"name"`
	Email           string   `json:"email"`
	AvatarURL       *string  `json:"avatarUrl"`
	HelpingSubjects []string `json:"helping_subjects"`
}

// PublicUser はチャット一覧などで使う最小限の公開プロフィール
type PublicUser struct {
	UID       string  `json:"uid"`
	Name      string  `json:"name"`
	AvatarURL *string `json:"avatarUrl"`
}

// Account は認証用のアカウント
type Account struct {
	UID          string
	Email        string
	PasswordHash string
	CreatedAt    int64
}

// AvatarInitial は名前の頭文字を大文字で返す
func AvatarInitial(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "?"
	}
	r, _ := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r))
}

// ToHelper はUserをHelperに変換する
func (u User) ToHelper() Helper {
	subjects := u.HelpingSubjects
	if subjects == nil {
		subjects = []string{}
	}
	return Helper{
		UID:             u.UID,
		Name:            u.Name,
		Email:           u.Email,
		AvatarURL:       u.AvatarURL,
		HelpingSubjects: subjects,
	}
}

// ToPublic はUserをPublicUserに変換する
func (u User) ToPublic() PublicUser {
	return PublicUser{UID: u.UID, Name: u.Name, AvatarURL: u.AvatarURL}
}
