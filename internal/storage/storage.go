package storage

import (
	"context"
	"errors"

	"github.com/tasukuchiba/ifocus/internal/models"
)

var (
	// ErrNotFound はドキュメントが見つからない場合のエラー
	ErrNotFound = errors.New("document not found")

	// ErrAlreadyExists は同じキーのドキュメントが既に存在する場合のエラー
	ErrAlreadyExists = errors.New("document already exists")
)

// UserStore は学生プロフィールのストレージ
type UserStore interface {
	// CreateUser はプロフィールを作成する。既に存在すればErrAlreadyExists
	CreateUser(ctx context.Context, user models.User) error

	GetUser(ctx context.Context, uid string) (models.User, error)

	// UpdateUser はnilでないフィールドだけを更新し、更新後のプロフィールを返す
	UpdateUser(ctx context.Context, uid string, update models.UserUpdate) (models.User, error)

	// ListHelpersBySubject はsubjectを教えている学生を返す
	ListHelpersBySubject(ctx context.Context, subject string) ([]models.User, error)

	// GetUsers は指定順にプロフィールを返す。存在しないuidは無視する
	GetUsers(ctx context.Context, uids []string) ([]models.User, error)
}

// AccountStore は認証アカウントのストレージ
type AccountStore interface {
	CreateAccount(ctx context.Context, account models.Account) error
	GetAccountByEmail(ctx context.Context, email string) (models.Account, error)
	GetAccount(ctx context.Context, uid string) (models.Account, error)
	UpdatePasswordHash(ctx context.Context, uid, hash string) error
}

// CatalogStore はコースと科目のストレージ
type CatalogStore interface {
	// ListCourses は科目付きの全コースをID順で返す
	ListCourses(ctx context.Context) ([]models.Course, error)
	GetCourse(ctx context.Context, courseID string) (models.Course, error)
	CreateCourse(ctx context.Context, course models.Course) error
	RenameCourse(ctx context.Context, courseID, name string) error
	// DeleteCourse はコースと配下の科目を削除する
	DeleteCourse(ctx context.Context, courseID string) error

	ListDisciplines(ctx context.Context, courseID string) ([]models.Discipline, error)
	GetDiscipline(ctx context.Context, courseID, disciplineID string) (models.Discipline, error)
	CreateDiscipline(ctx context.Context, courseID string, discipline models.Discipline) error
	RenameDiscipline(ctx context.Context, courseID, disciplineID, name string) error
	DeleteDiscipline(ctx context.Context, courseID, disciplineID string) error
}

// ChatStore はチャットとメッセージのストレージ
type ChatStore interface {
	// EnsureChat はチャットが無ければcreatedAtを更新時刻として作成し、現在のチャットを返す。
	// 既存チャットのプレビューと更新時刻は変更しない
	EnsureChat(ctx context.Context, chatID string, participants []string, createdAt int64) (models.Chat, error)

	GetChat(ctx context.Context, chatID string) (models.Chat, error)

	// UpdateChatPreview は最後のメッセージのプレビューと更新時刻を書き込む
	UpdateChatPreview(ctx context.Context, chatID, preview, sender string, updatedAt int64) error

	// ListChatsForUser はuidが参加しているチャットをupdated_atの降順で返す
	ListChatsForUser(ctx context.Context, uid string) ([]models.Chat, error)

	SaveMessage(ctx context.Context, msg models.Message) error

	// ListMessages はbefore(0なら無制限)より前の最新limit件を時刻の昇順で返す
	ListMessages(ctx context.Context, chatID string, limit int, before int64) ([]models.Message, error)

	// LatestMessage はチャットの最新メッセージを返す。無ければErrNotFound
	LatestMessage(ctx context.Context, chatID string) (models.Message, error)
}

// Storage はドキュメントストア全体のインターフェース
type Storage interface {
	UserStore
	AccountStore
	CatalogStore
	ChatStore
}
