package auth

import (
	"errors"
	"regexp"

	"golang.org/x/crypto/bcrypt"
)

// institutionalEmail は教育機関(.edu.br)のメールアドレス
var institutionalEmail = regexp.MustCompile(`.+@.+\.edu\.br$`)

// IsInstitutionalEmail は登録が許可されるメールアドレスかどうかを返す
func IsInstitutionalEmail(email string) bool {
	return institutionalEmail.MatchString(email)
}

// HashPassword はbcryptでパスワードをハッシュ化する
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// ComparePassword はパスワードがハッシュと一致するかを返す
func ComparePassword(password, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
